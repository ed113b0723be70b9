package model

import (
	"slices"
	"strings"
)

// UpdateEventData is a partial patch of an event. Only non-nil fields are
// written; a pointer to an empty slice clears the field.
type UpdateEventData struct {
	EventID          string     `json:"eventId"`
	EventType        Discipline `json:"eventType"`
	InterestedRiders *[]string  `json:"interestedRiders,omitempty"`
	CommittedRiders  *[]string  `json:"committedRiders,omitempty"`
	Housing          *Housing   `json:"housing,omitempty"`
	HousingURL       *string    `json:"housingUrl,omitempty"`
	Description      *string    `json:"description,omitempty"`
	Carpools         *[]Carpool `json:"carpools,omitempty"`
}

// Key identifies the event the patch targets.
func (u UpdateEventData) Key() string {
	return EventKey(u.EventType, u.EventID)
}

// Validate checks the addressing fields of the patch.
func (u UpdateEventData) Validate() error {
	if strings.TrimSpace(u.EventID) == "" {
		return Invalidf("eventId is required")
	}
	if !u.EventType.Valid() {
		return Invalidf("unknown event type %q", u.EventType)
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (u UpdateEventData) Empty() bool {
	return u.InterestedRiders == nil && u.CommittedRiders == nil && u.Housing == nil &&
		u.HousingURL == nil && u.Description == nil && u.Carpools == nil
}

// ChangesHousing reports whether applying the patch to e changes its
// housing lists.
func (u UpdateEventData) ChangesHousing(e Event) bool {
	if u.Housing == nil {
		return false
	}
	var before Housing
	if e.Housing != nil {
		before = *e.Housing
	}
	return !slices.Equal(before.Committed, u.Housing.Committed) ||
		!slices.Equal(before.Interested, u.Housing.Interested)
}

// Apply writes the present fields of the patch onto a copy of e.
func (u UpdateEventData) Apply(e Event) Event {
	out := e.Clone()
	if u.InterestedRiders != nil {
		out.InterestedRiders = cloneStrings(*u.InterestedRiders)
	}
	if u.CommittedRiders != nil {
		out.CommittedRiders = cloneStrings(*u.CommittedRiders)
	}
	if u.Housing != nil {
		out.Housing = u.Housing.Clone()
	}
	if u.HousingURL != nil {
		out.HousingURL = *u.HousingURL
	}
	if u.Description != nil {
		out.Description = *u.Description
	}
	if u.Carpools != nil {
		out.Carpools = Event{Carpools: *u.Carpools}.Clone().Carpools
	}
	return out
}

// Strings returns a pointer to a copy of s, for building patches.
func Strings(s []string) *[]string {
	c := cloneStrings(s)
	if c == nil {
		c = []string{}
	}
	return &c
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
