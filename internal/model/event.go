package model

import (
	"fmt"
	"time"
)

// Discipline is the event category an event is listed under.
type Discipline string

const (
	DisciplineRoad    Discipline = "road"
	DisciplineCX      Discipline = "cx"
	DisciplineXC      Discipline = "xc"
	DisciplineSpecial Discipline = "special"
)

// Disciplines lists every known discipline in display order.
var Disciplines = []Discipline{DisciplineRoad, DisciplineCX, DisciplineXC, DisciplineSpecial}

// ParseDiscipline validates a discipline coming from a request.
func ParseDiscipline(s string) (Discipline, error) {
	d := Discipline(s)
	if !d.Valid() {
		return "", Invalidf("unknown event type %q", s)
	}
	return d, nil
}

func (d Discipline) Valid() bool {
	switch d {
	case DisciplineRoad, DisciplineCX, DisciplineXC, DisciplineSpecial:
		return true
	}
	return false
}

// Sourced reports whether events of this discipline are imported from the
// external event source (and therefore have registrations).
func (d Discipline) Sourced() bool {
	return d == DisciplineRoad || d == DisciplineCX || d == DisciplineXC
}

// Housing holds the riders sharing accommodation for an event.
type Housing struct {
	Committed  []string `json:"committed,omitempty"`
	Interested []string `json:"interested,omitempty"`
}

// Clone returns a deep copy; nil stays nil.
func (h *Housing) Clone() *Housing {
	if h == nil {
		return nil
	}
	return &Housing{
		Committed:  cloneStrings(h.Committed),
		Interested: cloneStrings(h.Interested),
	}
}

type Carpool struct {
	ID        string   `json:"id"`
	Driver    string   `json:"driver"`
	Seats     int      `json:"seats"`
	Riders    []string `json:"riders,omitempty"`
	Departure string   `json:"departure,omitempty"`
}

// Event is one calendar entry. It is stored as a document keyed by
// (EventType, ID).
type Event struct {
	ID               string     `json:"id" gorm:"primaryKey"`
	EventType        Discipline `json:"eventType" gorm:"primaryKey;index"`
	Name             string     `json:"name" gorm:"not null"`
	Date             time.Time  `json:"date" gorm:"index"`
	City             string     `json:"city,omitempty"`
	State            string     `json:"state,omitempty"`
	Address          string     `json:"address,omitempty"`
	EventURL         string     `json:"eventUrl,omitempty"`
	Description      string     `json:"description,omitempty"`
	InterestedRiders []string   `json:"interestedRiders" gorm:"serializer:json"`
	CommittedRiders  []string   `json:"committedRiders" gorm:"serializer:json"`
	Housing          *Housing   `json:"housing,omitempty" gorm:"serializer:json"`
	HousingURL       string     `json:"housingUrl,omitempty"`
	Carpools         []Carpool  `json:"carpools,omitempty" gorm:"serializer:json"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Key identifies an event across disciplines.
func (e Event) Key() string {
	return EventKey(e.EventType, e.ID)
}

func EventKey(d Discipline, id string) string {
	return fmt.Sprintf("%s/%s", d, id)
}

// Clone returns a deep copy so callers can snapshot and restore an event.
func (e Event) Clone() Event {
	c := e
	c.InterestedRiders = cloneStrings(e.InterestedRiders)
	c.CommittedRiders = cloneStrings(e.CommittedRiders)
	c.Housing = e.Housing.Clone()
	if e.Carpools != nil {
		c.Carpools = make([]Carpool, len(e.Carpools))
		for i, cp := range e.Carpools {
			cp.Riders = cloneStrings(cp.Riders)
			c.Carpools[i] = cp
		}
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
