package polling

import (
	"math"
	"sort"

	"AmberPull/internal/domain/models"
)

// CDF is a piecewise-linear cumulative distribution over seconds since
// interval start. Times are strictly increasing and Probs non-decreasing.
type CDF struct {
	Times []float64 `json:"times"`
	Probs []float64 `json:"probs"`
}

// Valid reports whether the curve carries any probability mass.
func (c CDF) Valid() bool {
	n := len(c.Times)
	return n >= 2 && len(c.Probs) == n && c.Probs[n-1] > 0
}

// BuildCDF mixes the observations as weighted uniform distributions over
// [start, end). Invalid observations are skipped; when no mass remains the
// returned curve is not Valid.
func BuildCDF(observations []models.Observation) CDF {
	valid := make([]models.Observation, 0, len(observations))
	for _, o := range observations {
		if o.Validate() == nil && o.EffectiveWeight() > 0 {
			valid = append(valid, o)
		}
	}
	if len(valid) == 0 {
		return CDF{}
	}

	seen := make(map[float64]struct{}, 2*len(valid))
	grid := make([]float64, 0, 2*len(valid))
	totalWeight := 0.0
	for _, o := range valid {
		for _, t := range [2]float64{o.Start, o.End} {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				grid = append(grid, t)
			}
		}
		totalWeight += o.EffectiveWeight()
	}
	sort.Float64s(grid)
	if len(grid) < 2 || totalWeight <= 0 {
		return CDF{}
	}

	probs := make([]float64, len(grid))
	for i := 0; i < len(grid)-1; i++ {
		left, width := grid[i], grid[i+1]-grid[i]
		density := 0.0
		for _, o := range valid {
			if o.Start <= left && left < o.End {
				density += o.EffectiveWeight() / (totalWeight * o.Width())
			}
		}
		probs[i+1] = probs[i] + density*width
	}

	total := probs[len(probs)-1]
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return CDF{Times: grid, Probs: make([]float64, len(grid))}
	}
	for i := range probs {
		probs[i] /= total
	}
	probs[len(probs)-1] = 1
	return CDF{Times: grid, Probs: probs}
}

// Evaluate returns F(t), linearly interpolated between breakpoints.
func (c CDF) Evaluate(t float64) float64 {
	n := len(c.Times)
	if n == 0 || len(c.Probs) != n {
		return 0
	}
	if t < c.Times[0] || math.IsNaN(t) {
		return 0
	}
	if t > c.Times[n-1] {
		return 1
	}
	i := sort.SearchFloat64s(c.Times, t)
	if c.Times[i] == t {
		return c.Probs[i]
	}
	t0, t1 := c.Times[i-1], c.Times[i]
	p0, p1 := c.Probs[i-1], c.Probs[i]
	if t1 <= t0 {
		return p0
	}
	return p0 + (t-t0)/(t1-t0)*(p1-p0)
}

// Invert returns the earliest time at which F reaches p.
func (c CDF) Invert(p float64) float64 {
	n := len(c.Times)
	if n == 0 || len(c.Probs) != n {
		return 0
	}
	if p <= 0 || math.IsNaN(p) {
		return c.Times[0]
	}
	if p >= 1 {
		return c.Times[n-1]
	}
	i := sort.SearchFloat64s(c.Probs, p)
	if i >= n {
		return c.Times[n-1]
	}
	if c.Probs[i] == p || i == 0 {
		return c.Times[i]
	}
	t0, t1 := c.Times[i-1], c.Times[i]
	p0, p1 := c.Probs[i-1], c.Probs[i]
	if p1 <= p0 {
		return t0
	}
	return t0 + (p-p0)/(p1-p0)*(t1-t0)
}

// SampleQuantiles places n poll times at the j/(n+1) quantiles, j = 1..n.
// With conditionOn > 0 the quantiles are taken of the distribution left
// after conditionOn seconds: F⁻¹(F(e) + j/(n+1)·(1−F(e))). An invalid curve,
// n <= 0, or a conditioning point past all mass yields nil.
func SampleQuantiles(c CDF, n int, conditionOn float64) []float64 {
	if n <= 0 || !c.Valid() {
		return nil
	}
	base := 0.0
	if conditionOn > 0 {
		base = c.Evaluate(conditionOn)
		if base >= 1 {
			return nil
		}
	}
	out := make([]float64, n)
	for j := 1; j <= n; j++ {
		q := float64(j) / float64(n+1)
		out[j-1] = c.Invert(base + q*(1-base))
	}
	return out
}

// UniformQuantiles spreads n times evenly over (from, from+span).
func UniformQuantiles(from, span float64, n int) []float64 {
	if n <= 0 || span <= 0 || math.IsNaN(span+from) || math.IsInf(span+from, 0) {
		return nil
	}
	out := make([]float64, n)
	for j := 1; j <= n; j++ {
		out[j-1] = from + float64(j)/float64(n+1)*span
	}
	return out
}
