package model

// Link-quality values are error estimates in [0, 1]; lower is better.
const (
	// MinQuality is the best possible estimate (error free).
	MinQuality = 0.0
	// MaxQuality is the worst estimate that still describes a usable link.
	MaxQuality = 1.0

	// UnusableWeight marks a link believed unusable after a timeout. It is a
	// finite cost so that a degraded route stays selectable when nothing
	// better exists.
	UnusableWeight = 2.0

	// CorruptedSignal is returned by a channel model when a transmission was
	// not decodable by the receiver.
	CorruptedSignal = 2.0
)

// ValidQuality reports whether v is an error estimate a receiver may accept.
func ValidQuality(v float64) bool {
	return v >= MinQuality && v <= MaxQuality
}

// LinkQualityReport carries the entries of one device's link-quality table
// that changed since they were last reported.
type LinkQualityReport struct {
	Owner   Address
	Entries map[Address]float64
}

// Empty reports whether the report carries no entries.
func (r LinkQualityReport) Empty() bool { return len(r.Entries) == 0 }
