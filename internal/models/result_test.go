package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveLinkType(t *testing.T) {
	tests := []struct {
		name     string
		rels     []string
		expected LinkType
	}{
		{"no rel", nil, LinkTypeFollow},
		{"empty rel", []string{}, LinkTypeFollow},
		{"nofollow", []string{"nofollow"}, LinkTypeNoFollow},
		{"sponsored", []string{"sponsored"}, LinkTypeSponsored},
		{"ugc", []string{"ugc"}, LinkTypeUGC},
		{"canonical", []string{"canonical"}, LinkTypeCanonical},
		{"redirect", []string{"redirect"}, LinkTypeRedirect},
		{"sponsored beats nofollow", []string{"nofollow", "sponsored"}, LinkTypeSponsored},
		{"ugc beats nofollow", []string{"nofollow", "ugc"}, LinkTypeUGC},
		{"nofollow beats canonical", []string{"canonical", "nofollow"}, LinkTypeNoFollow},
		{"unrelated rel values", []string{"noopener", "noreferrer"}, LinkTypeFollow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveLinkType(tt.rels))
		})
	}
}

func TestResultFromJSONRequiresJobID(t *testing.T) {
	_, err := ResultFromJSON(`{"url":"http://a.example/","status_code":200,"is_final_summary":false}`)
	assert.ErrorIs(t, err, ErrMissingJobID)
}

func TestResultFromJSONMalformed(t *testing.T) {
	_, err := ResultFromJSON(`{not json`)
	assert.Error(t, err)
}

func TestResultJSONRoundTrip(t *testing.T) {
	result := &CrawlResult{
		JobID:       "job_1",
		URL:         "http://s.example/a",
		StatusCode:  200,
		ContentType: "text/html",
		CrawlTimeMs: 123.4,
		LinksFound: []Link{
			{
				ID:            "link_1",
				SourceURL:     "http://s.example/a",
				TargetURL:     "http://t.example/x",
				AnchorText:    "hi",
				RelAttributes: []string{"nofollow"},
				LinkType:      LinkTypeNoFollow,
				HTTPStatus:    200,
			},
		},
	}

	data, err := result.ToJSON()
	require.NoError(t, err)

	decoded, err := ResultFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, result.JobID, decoded.JobID)
	assert.Equal(t, result.LinksFound, decoded.LinksFound)
	assert.False(t, decoded.IsFinalSummary)
}

func TestControlMessageJobID(t *testing.T) {
	msg := &ControlMessage{
		Command: CommandCancelJob,
		Payload: map[string]interface{}{"job_id": "job_9"},
	}
	assert.Equal(t, "job_9", msg.JobID())

	data, err := msg.ToJSON()
	require.NoError(t, err)

	decoded, err := ControlMessageFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, CommandCancelJob, decoded.Command)
	assert.Equal(t, "job_9", decoded.JobID())

	empty := &ControlMessage{Command: CommandPause}
	assert.Equal(t, "", empty.JobID())
}
