package model

import "fmt"

// OutcomeKind discriminates the result of one acknowledgment attempt.
type OutcomeKind int

const (
	OutcomeTimedOut OutcomeKind = iota
	OutcomeAccepted
	OutcomeNotForMe
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeNotForMe:
		return "not_for_me"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what a receiving device replies to a transmission it heard.
// Value is only meaningful for OutcomeAccepted.
type Outcome struct {
	Kind  OutcomeKind
	Value float64
}

// Accepted builds an accepting outcome with the observed error estimate.
func Accepted(v float64) Outcome { return Outcome{Kind: OutcomeAccepted, Value: v} }

// TimedOut is the outcome of a corrupted or unanswered transmission.
func TimedOut() Outcome { return Outcome{Kind: OutcomeTimedOut, Value: UnusableWeight} }

// NotForMe is the outcome of a device that overheard a frame addressed to
// another device.
func NotForMe() Outcome { return Outcome{Kind: OutcomeNotForMe} }

// OK reports whether the outcome is an acceptance.
func (o Outcome) OK() bool { return o.Kind == OutcomeAccepted }

func (o Outcome) String() string {
	if o.Kind == OutcomeAccepted {
		return fmt.Sprintf("accepted(%.4f)", o.Value)
	}
	return o.Kind.String()
}
