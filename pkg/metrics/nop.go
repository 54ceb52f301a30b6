package metrics

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordPoll(string)               {}
func (Nop) RecordRateLimited()              {}
func (Nop) RecordError(string)              {}
func (Nop) RecordConfirmation(float64)      {}
func (Nop) RecordBudget(int)                {}
func (Nop) RecordSchedule(int)              {}
func (Nop) RecordObservations(int)          {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64)   {}
