// Package rider derives the rider buckets shown for an event and computes
// the patches produced when riders move between them.
package rider

import (
	"cyclecal/internal/model"

	"github.com/google/uuid"
)

// List names a bucket of riders.
type List string

const (
	Registered        List = "registered"
	Interested        List = "interested"
	Committed         List = "committed"
	HousingInterested List = "housingInterested"
	HousingCommitted  List = "housingCommitted"
)

// ParseList validates a bucket name coming from a request.
func ParseList(s string) (List, error) {
	switch l := List(s); l {
	case Registered, Interested, Committed, HousingInterested, HousingCommitted:
		return l, nil
	}
	return "", model.Invalidf("unknown rider list %q", s)
}

// IsHousing reports whether l is one of the housing buckets.
func IsHousing(l List) bool {
	return l == HousingInterested || l == HousingCommitted
}

// riderNamespace scopes the name-derived rider IDs.
var riderNamespace = uuid.MustParse("8f0c9a52-3b1e-4d7a-9c55-5e2f6a1d7b40")

// Rider is one entry in a bucket. ID is derived from the name until riders
// carry a server-assigned identifier.
type Rider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func New(name string) Rider {
	return Rider{
		ID:   uuid.NewSHA1(riderNamespace, []byte(name)).String(),
		Name: name,
	}
}

// Lists maps bucket names to their riders.
type Lists map[List][]Rider

// Names projects one bucket back to display names.
func (l Lists) Names(list List) []string {
	riders := l[list]
	names := make([]string, 0, len(riders))
	for _, r := range riders {
		names = append(names, r.Name)
	}
	return names
}

// Merge returns a new Lists holding the buckets of both.
func (l Lists) Merge(other Lists) Lists {
	out := make(Lists, len(l)+len(other))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

type bucket struct {
	list  List
	names []string
}

// build fills buckets in the given order; a name already placed in an
// earlier bucket is dropped from later ones.
func build(buckets ...bucket) Lists {
	seen := make(map[string]struct{})
	out := make(Lists, len(buckets))
	for _, b := range buckets {
		riders := make([]Rider, 0, len(b.names))
		for _, name := range b.names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			riders = append(riders, New(name))
		}
		out[b.list] = riders
	}
	return out
}

// BuildEventLists builds the registered, committed and interested buckets,
// in that priority.
func BuildEventLists(registered, committed, interested []string) Lists {
	return build(
		bucket{Registered, registered},
		bucket{Committed, committed},
		bucket{Interested, interested},
	)
}

// BuildHousingLists builds the housing buckets, committed first.
func BuildHousingLists(h *model.Housing) Lists {
	if h == nil {
		h = &model.Housing{}
	}
	return build(
		bucket{HousingCommitted, h.Committed},
		bucket{HousingInterested, h.Interested},
	)
}

// ForEvent builds every bucket of ev given the names registered for it.
func ForEvent(ev model.Event, registered []string) Lists {
	return BuildEventLists(registered, ev.CommittedRiders, ev.InterestedRiders).
		Merge(BuildHousingLists(ev.Housing))
}
