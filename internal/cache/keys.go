package cache

import (
	"fmt"
	"time"

	"cyclecal/internal/model"
)

// EventsKey is the cache key of the event list of one discipline.
func EventsKey(d model.Discipline) string {
	return fmt.Sprintf("events-%s", d)
}

// RegistrationKey is the cache key of a registration lookup. The "after"
// date is normalized to local midnight so every lookup on the same calendar
// day shares one entry.
func RegistrationKey(d model.Discipline, after time.Time) string {
	midnight := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
	return fmt.Sprintf("%s-%s", d, midnight.UTC().Format("2006-01-02T15:04:05.000Z"))
}
