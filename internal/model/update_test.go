package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOnlyWritesPresentFields(t *testing.T) {
	ev := Event{
		ID:               "1",
		EventType:        DisciplineRoad,
		Description:      "hilly",
		InterestedRiders: []string{"A"},
		CommittedRiders:  []string{"B"},
		HousingURL:       "https://example.com/house",
	}

	patch := UpdateEventData{EventID: "1", EventType: DisciplineRoad, CommittedRiders: Strings(nil)}
	out := patch.Apply(ev)

	assert.Equal(t, []string{"A"}, out.InterestedRiders)
	assert.Empty(t, out.CommittedRiders)
	assert.Equal(t, "hilly", out.Description)
	assert.Equal(t, "https://example.com/house", out.HousingURL)
	assert.Equal(t, []string{"B"}, ev.CommittedRiders, "source event must not be mutated")
}

func TestPatchJSONDistinguishesAbsentFromEmpty(t *testing.T) {
	patch := UpdateEventData{EventID: "1", EventType: DisciplineCX, InterestedRiders: Strings(nil)}
	data, err := json.Marshal(patch)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "interestedRiders")
	assert.NotContains(t, raw, "committedRiders")
	assert.NotContains(t, raw, "housing")

	var back UpdateEventData
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.InterestedRiders)
	assert.Empty(t, *back.InterestedRiders)
	assert.Nil(t, back.CommittedRiders)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, UpdateEventData{EventType: DisciplineRoad}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, UpdateEventData{EventID: "1", EventType: "bmx"}.Validate(), ErrInvalidInput)
	assert.NoError(t, UpdateEventData{EventID: "1", EventType: DisciplineSpecial}.Validate())
}

func TestChangesHousing(t *testing.T) {
	ev := Event{ID: "1", EventType: DisciplineRoad}

	assert.False(t, UpdateEventData{}.ChangesHousing(ev))
	assert.False(t, UpdateEventData{Housing: &Housing{Interested: []string{}}}.ChangesHousing(ev),
		"empty lists on an event without housing are not a change")
	assert.True(t, UpdateEventData{Housing: &Housing{Interested: []string{"A"}}}.ChangesHousing(ev))

	ev.Housing = &Housing{Interested: []string{"A"}}
	assert.False(t, UpdateEventData{Housing: &Housing{Interested: []string{"A"}}}.ChangesHousing(ev))
	assert.True(t, UpdateEventData{Housing: &Housing{Committed: []string{"A"}}}.ChangesHousing(ev))
}
