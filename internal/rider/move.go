package rider

import (
	"errors"
	"fmt"
	"slices"

	"cyclecal/internal/model"
)

var ErrIllegalMove = errors.New("illegal rider move")

// Graph lists, for each bucket, the buckets a rider may be moved to.
type Graph map[List][]List

// DefaultGraph pairs interested with committed, and the housing buckets
// with each other. Moves across pairs are not edges.
var DefaultGraph = Graph{
	Interested:        {Committed},
	Committed:         {Interested},
	HousingInterested: {HousingCommitted},
	HousingCommitted:  {HousingInterested},
}

func (g Graph) Allowed(from, to List) bool {
	return slices.Contains(g[from], to)
}

// Move moves name from one bucket of ev to another and returns the patch
// to persist. The patch carries the full interested, committed and housing
// arrays plus the current housing URL. Moves that are not edges of g fail
// with ErrIllegalMove.
func (g Graph) Move(ev model.Event, from, to List, name string) (model.UpdateEventData, error) {
	if !g.Allowed(from, to) {
		return model.UpdateEventData{}, fmt.Errorf("%w: %s to %s", ErrIllegalMove, from, to)
	}

	interested := copyNames(ev.InterestedRiders)
	committed := copyNames(ev.CommittedRiders)
	housing := ev.Housing.Clone()
	if housing == nil {
		housing = &model.Housing{}
	}
	housing.Interested = copyNames(housing.Interested)
	housing.Committed = copyNames(housing.Committed)

	slot := func(l List) *[]string {
		switch l {
		case Interested:
			return &interested
		case Committed:
			return &committed
		case HousingInterested:
			return &housing.Interested
		case HousingCommitted:
			return &housing.Committed
		}
		return nil
	}

	src, dst := slot(from), slot(to)
	if src == nil || dst == nil {
		return model.UpdateEventData{}, fmt.Errorf("%w: %s to %s", ErrIllegalMove, from, to)
	}
	*src = removeFirst(*src, name)
	if !slices.Contains(*dst, name) {
		*dst = append(*dst, name)
	}

	return model.UpdateEventData{
		EventID:          ev.ID,
		EventType:        ev.EventType,
		InterestedRiders: &interested,
		CommittedRiders:  &committed,
		Housing:          housing,
		HousingURL:       model.String(ev.HousingURL),
	}, nil
}

// Move applies DefaultGraph.
func Move(ev model.Event, from, to List, name string) (model.UpdateEventData, error) {
	return DefaultGraph.Move(ev, from, to, name)
}

// RemoveInterested drops name from the interested riders.
func RemoveInterested(ev model.Event, name string) model.UpdateEventData {
	return model.UpdateEventData{
		EventID:          ev.ID,
		EventType:        ev.EventType,
		InterestedRiders: model.Strings(without(ev.InterestedRiders, name)),
	}
}

// RemoveCommitted drops name from the committed riders.
func RemoveCommitted(ev model.Event, name string) model.UpdateEventData {
	return model.UpdateEventData{
		EventID:         ev.ID,
		EventType:       ev.EventType,
		CommittedRiders: model.Strings(without(ev.CommittedRiders, name)),
	}
}

// AddInterested appends name to the interested riders if it is not on the
// event in any bucket yet.
func AddInterested(ev model.Event, name string) (model.UpdateEventData, bool) {
	if slices.Contains(ev.InterestedRiders, name) || slices.Contains(ev.CommittedRiders, name) {
		return model.UpdateEventData{}, false
	}
	return model.UpdateEventData{
		EventID:          ev.ID,
		EventType:        ev.EventType,
		InterestedRiders: model.Strings(append(copyNames(ev.InterestedRiders), name)),
	}, true
}

func copyNames(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func removeFirst(s []string, name string) []string {
	i := slices.Index(s, name)
	if i < 0 {
		return s
	}
	return slices.Delete(s, i, i+1)
}

func without(s []string, name string) []string {
	out := make([]string, 0, len(s))
	for _, n := range s {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
