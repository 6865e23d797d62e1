package status

import "fmt"

// Status is the lifecycle state of a booking.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Cancelled Status = "cancelled"
	Completed Status = "completed"
)

// transitions lists the allowed moves out of each state.
// Terminal states map to an empty slice.
var transitions = map[Status][]Status{
	Pending:   {Confirmed, Cancelled},
	Confirmed: {Cancelled, Completed},
	Cancelled: {},
	Completed: {},
}

// Active is the set of states that hold a claim on the property's calendar.
var Active = []Status{Pending, Confirmed}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether s -> target is in the transition table.
// Staying in the same state is not a transition; callers treat it as a no-op.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// HoldsCalendar reports whether a booking in this state blocks its dates.
func (s Status) HoldsCalendar() bool {
	for _, a := range Active {
		if s == a {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

func Parse(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid booking status: %q", v)
	}
	return s, nil
}
