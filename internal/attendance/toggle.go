package attendance

import "github.com/xiello/qrchek/internal/model"

// State is the per-employee position in the arrival/departure cycle.
type State int

const (
	AwaitingArrival State = iota
	AwaitingDeparture
)

func (s State) String() string {
	if s == AwaitingDeparture {
		return "awaiting_departure"
	}
	return "awaiting_arrival"
}

// StateOf derives the state from the employee's most recent record.
func StateOf(last *model.Record) State {
	if last != nil && last.Type == model.Arrival {
		return AwaitingDeparture
	}
	return AwaitingArrival
}

// Next is the record type an accepted scan produces in state s.
func (s State) Next() model.Type {
	if s == AwaitingDeparture {
		return model.Departure
	}
	return model.Arrival
}

// ResolveType decides the type of an incoming scan given the last record.
func ResolveType(last *model.Record) model.Type {
	return StateOf(last).Next()
}
