package polling

import "AmberPull/internal/domain/models"

// Cold-start corpus: confirmations historically land between 15s and 45s
// after the interval starts.
const (
	coldStartCount = 100
	coldStartFrom  = 15.0
	coldStartTo    = 45.0
)

// ColdStartObservations returns the bundled corpus used until real
// observations replace it.
func ColdStartObservations() []models.Observation {
	out := make([]models.Observation, coldStartCount)
	for i := range out {
		out[i] = models.Observation{Start: coldStartFrom, End: coldStartTo, Weight: 1}
	}
	return out
}
