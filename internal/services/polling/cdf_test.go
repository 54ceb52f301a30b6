package polling

import (
	"math"
	"testing"

	"AmberPull/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(start, end float64) models.Observation {
	return models.Observation{Start: start, End: end, Weight: 1}
}

func TestBuildCDF_Endpoints(t *testing.T) {
	cdf := BuildCDF([]models.Observation{obs(10, 20), obs(15, 40), obs(5, 12)})
	require.True(t, cdf.Valid())

	assert.Equal(t, []float64{5, 10, 12, 15, 20, 40}, cdf.Times)
	assert.Equal(t, 0.0, cdf.Evaluate(cdf.Times[0]))
	assert.Equal(t, 1.0, cdf.Evaluate(cdf.Times[len(cdf.Times)-1]))
	assert.Equal(t, 0.0, cdf.Evaluate(-1))
	assert.Equal(t, 1.0, cdf.Evaluate(1000))

	for i := 1; i < len(cdf.Probs); i++ {
		assert.GreaterOrEqual(t, cdf.Probs[i], cdf.Probs[i-1])
	}
}

func TestBuildCDF_SingleObservation(t *testing.T) {
	cdf := BuildCDF([]models.Observation{obs(15, 45)})
	require.True(t, cdf.Valid())
	assert.Equal(t, []float64{15, 45}, cdf.Times)
	assert.Equal(t, []float64{0, 1}, cdf.Probs)
	assert.InDelta(t, 0.5, cdf.Evaluate(30), 1e-12)
	assert.InDelta(t, 30, cdf.Invert(0.5), 1e-12)
}

func TestBuildCDF_Weighted(t *testing.T) {
	// Weight 3 on [0,10) and 1 on [10,20): three quarters of the mass by 10s.
	cdf := BuildCDF([]models.Observation{
		{Start: 0, End: 10, Weight: 3},
		{Start: 10, End: 20, Weight: 1},
	})
	require.True(t, cdf.Valid())
	assert.InDelta(t, 0.75, cdf.Evaluate(10), 1e-12)
	assert.InDelta(t, 10, cdf.Invert(0.75), 1e-12)
}

func TestBuildCDF_Degenerate(t *testing.T) {
	assert.False(t, BuildCDF(nil).Valid())
	assert.False(t, BuildCDF([]models.Observation{obs(10, 10)}).Valid())
	assert.False(t, BuildCDF([]models.Observation{obs(20, 10)}).Valid())
	assert.False(t, BuildCDF([]models.Observation{{Start: math.NaN(), End: 3}}).Valid())
	assert.False(t, BuildCDF([]models.Observation{{Start: 0, End: math.Inf(1)}}).Valid())
}

func TestInvert_FlatSegmentReturnsEarliestTime(t *testing.T) {
	// Gap in mass between 10 and 30.
	cdf := BuildCDF([]models.Observation{obs(0, 10), obs(30, 40)})
	require.True(t, cdf.Valid())
	assert.InDelta(t, 0.5, cdf.Evaluate(20), 1e-12)
	assert.Equal(t, 10.0, cdf.Invert(0.5))
	assert.Equal(t, 0.0, cdf.Invert(0))
	assert.Equal(t, 0.0, cdf.Invert(-3))
	assert.Equal(t, 40.0, cdf.Invert(1))
	assert.Equal(t, 40.0, cdf.Invert(2))
}

func TestEvaluate_ZeroWidthSegment(t *testing.T) {
	cdf := CDF{Times: []float64{0, 5, 5, 10}, Probs: []float64{0, 0.5, 0.5, 1}}
	assert.Equal(t, 0.5, cdf.Evaluate(5))
	assert.InDelta(t, 0.75, cdf.Evaluate(7.5), 1e-12)
}

func TestSampleQuantiles(t *testing.T) {
	cdf := BuildCDF([]models.Observation{obs(15, 45)})

	t.Run("unconditional", func(t *testing.T) {
		got := SampleQuantiles(cdf, 4, 0)
		want := []float64{21, 27, 33, 39}
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-9)
		}
	})

	t.Run("single observation formula", func(t *testing.T) {
		a, b := 7.0, 19.0
		c := BuildCDF([]models.Observation{obs(a, b)})
		for _, k := range []int{1, 2, 5, 9} {
			got := SampleQuantiles(c, k, 0)
			require.Len(t, got, k)
			for j := 1; j <= k; j++ {
				assert.InDelta(t, a+float64(j)/float64(k+1)*(b-a), got[j-1], 1e-9)
			}
		}
	})

	t.Run("conditional", func(t *testing.T) {
		got := SampleQuantiles(cdf, 1, 30)
		require.Len(t, got, 1)
		assert.InDelta(t, 37.5, got[0], 1e-9)
	})

	t.Run("empty cases", func(t *testing.T) {
		assert.Empty(t, SampleQuantiles(cdf, 0, 0))
		assert.Empty(t, SampleQuantiles(cdf, -2, 0))
		assert.Empty(t, SampleQuantiles(cdf, 3, 45))
		assert.Empty(t, SampleQuantiles(cdf, 3, 100))
		assert.Empty(t, SampleQuantiles(CDF{}, 3, 0))
	})
}

func TestUniformQuantiles(t *testing.T) {
	got := UniformQuantiles(60, 100, 3)
	assert.Equal(t, []float64{85, 110, 135}, got)
	assert.Empty(t, UniformQuantiles(60, 0, 3))
	assert.Empty(t, UniformQuantiles(60, 100, 0))
}

func TestCDF_NonFiniteInputs(t *testing.T) {
	c := BuildCDF(ColdStartObservations())
	require.True(t, c.Valid())

	assert.NotPanics(t, func() { c.Evaluate(math.NaN()) })
	assert.Equal(t, 0.0, c.Evaluate(math.NaN()))
	assert.Equal(t, 0.0, c.Evaluate(math.Inf(-1)))
	assert.Equal(t, 1.0, c.Evaluate(math.Inf(1)))
	assert.Equal(t, 15.0, c.Invert(math.NaN()))

	assert.Equal(t, SampleQuantiles(c, 4, 0), SampleQuantiles(c, 4, math.NaN()))
	assert.Nil(t, UniformQuantiles(math.NaN(), 100, 3))
	assert.Nil(t, UniformQuantiles(0, math.NaN(), 3))
	assert.Nil(t, UniformQuantiles(0, math.Inf(1), 3))
}
