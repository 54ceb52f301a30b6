package repository

// Resolution is the upstream interval length in minutes.
type Resolution int

const (
	Resolution5m  Resolution = 5
	Resolution30m Resolution = 30
)

// IsValidResolution returns true if r is a supported resolution.
func IsValidResolution(r Resolution) bool {
	switch r {
	case Resolution5m, Resolution30m:
		return true
	default:
		return false
	}
}

// DefaultResolution returns the default resolution.
func DefaultResolution() Resolution { return Resolution30m }

// NormalizeResolution converts a raw interval length to a valid resolution (or default).
func NormalizeResolution(minutes int) Resolution {
	r := Resolution(minutes)
	if IsValidResolution(r) {
		return r
	}
	return DefaultResolution()
}
