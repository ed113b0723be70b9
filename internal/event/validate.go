package event

import (
	"net/url"
	"strings"
	"time"

	"cyclecal/internal/model"
	"cyclecal/internal/rider"
)

// SubmitRequest imports an event from the event source by its public URL.
type SubmitRequest struct {
	URL       string           `json:"url"`
	EventType model.Discipline `json:"eventType"`
}

func (r SubmitRequest) Validate() error {
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if !r.EventType.Sourced() {
		return model.Invalidf("event type must be one of road, cx, xc; got %q", r.EventType)
	}
	return nil
}

// SpecialEventRequest creates a team or special event by hand.
type SpecialEventRequest struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	City        string `json:"city"`
	State       string `json:"state"`
	Address     string `json:"address"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (r SpecialEventRequest) Validate() error {
	required := []struct{ field, value string }{
		{"name", r.Name},
		{"date", r.Date},
		{"city", r.City},
		{"state", r.State},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return model.Invalidf("%s is required", f.field)
		}
	}
	if _, err := r.ParsedDate(); err != nil {
		return model.Invalidf("date must be YYYY-MM-DD")
	}
	if r.URL != "" {
		return validateURL(r.URL)
	}
	return nil
}

func (r SpecialEventRequest) ParsedDate() (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(r.Date))
}

// MoveRequest moves a rider between two buckets of an event. HousingURL is
// attached when the target is a housing bucket and the event has none yet.
type MoveRequest struct {
	EventID    string           `json:"eventId"`
	EventType  model.Discipline `json:"eventType"`
	From       rider.List       `json:"from"`
	To         rider.List       `json:"to"`
	Name       string           `json:"name"`
	HousingURL string           `json:"housingUrl,omitempty"`
}

func (r MoveRequest) Validate() error {
	if err := validateAddress(r.EventID, r.EventType, r.Name); err != nil {
		return err
	}
	if _, err := rider.ParseList(string(r.From)); err != nil {
		return err
	}
	if _, err := rider.ParseList(string(r.To)); err != nil {
		return err
	}
	if r.HousingURL != "" {
		return validateURL(r.HousingURL)
	}
	return nil
}

// RemoveRequest drops a rider from the interested or committed bucket.
type RemoveRequest struct {
	EventID   string           `json:"eventId"`
	EventType model.Discipline `json:"eventType"`
	List      rider.List       `json:"list"`
	Name      string           `json:"name"`
}

func (r RemoveRequest) Validate() error {
	if err := validateAddress(r.EventID, r.EventType, r.Name); err != nil {
		return err
	}
	if r.List != rider.Interested && r.List != rider.Committed {
		return model.Invalidf("riders can only be removed from %s or %s", rider.Interested, rider.Committed)
	}
	return nil
}

func validateAddress(id string, d model.Discipline, name string) error {
	if strings.TrimSpace(id) == "" {
		return model.Invalidf("eventId is required")
	}
	if !d.Valid() {
		return model.Invalidf("unknown event type %q", d)
	}
	if strings.TrimSpace(name) == "" {
		return model.Invalidf("rider name is required")
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return model.Invalidf("url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Invalidf("invalid url %q", raw)
	}
	return nil
}
