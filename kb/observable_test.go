package kb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oneHour   = time.Hour
	oneMinute = time.Minute
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestObservableTagNames(t *testing.T) {
	o := &Observable{
		Value: "198.51.100.7",
		Tags: []TagApplication{
			{Name: "c2", Fresh: true},
			{Name: "blocklist", Fresh: false},
			{Name: "emotet", Fresh: true},
		},
	}

	assert.Equal(t, []string{"c2", "blocklist", "emotet"}, o.TagNames(false))
	assert.Equal(t, []string{"c2", "emotet"}, o.TagNames(true))

	fresh := o.FreshTags()
	require.Len(t, fresh, 2)
	assert.Equal(t, "c2", fresh[0].Name)

	assert.True(t, o.HasTag("blocklist"))
	assert.False(t, o.HasTag("mitm"))
}

func TestObservableSummary(t *testing.T) {
	created := mustParse(t, "2026-08-20T09:00:00Z")
	tagged := mustParse(t, "2026-08-21T10:00:00Z")
	o := &Observable{
		ID:         "obs-1",
		Value:      "c2.evil.example.com",
		Type:       TypeHostname,
		Sources:    []string{"FeodoTrackerIPBlocklist"},
		Context:    []map[string]string{{"source": "FeodoTrackerIPBlocklist"}},
		Tags:       []TagApplication{{Name: "c2", Fresh: true}},
		Created:    created,
		LastTagged: &tagged,
	}

	s := o.Summary()
	assert.Equal(t, o.Value, s.Value)
	assert.Equal(t, o.Type, s.Type)
	assert.Equal(t, o.Tags, s.Tags)
	require.NotNil(t, s.LastTagged)
	assert.Equal(t, tagged, *s.LastTagged)
}

func TestEntityHasDeclaredTag(t *testing.T) {
	e := &Entity{Name: "Emotet", Type: EntityMalware, Tags: []string{"emotet", "banker"}}
	assert.True(t, e.HasDeclaredTag("emotet"))
	assert.False(t, e.HasDeclaredTag("c2"))
}
