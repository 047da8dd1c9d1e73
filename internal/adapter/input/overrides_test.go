package input

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/examcast/internal/model"
)

func TestOverrideClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"defaultName": "考试开始", "actualFileName": "", "displayName": "Begin writing"},
			{"defaultName": "", "actualFileName": "end_exam.mp3", "displayName": "Pens down"}
		]`))
	}))
	defer srv.Close()

	c := NewOverrideClient(srv.URL, time.Second, nil)
	overrides, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, "Begin writing", overrides[0].DisplayName)
	assert.Equal(t, "end_exam.mp3", overrides[1].ActualFileName)

	events := []model.ExamEvent{
		{Cue: model.CueExamStart, AudioFile: "https://cdn.example.org/start_exam.mp3"},
		{Cue: model.CueExamEnd, AudioFile: "https://cdn.example.org/end_exam.mp3"},
		{Cue: model.CueReminder, AudioFile: "https://cdn.example.org/15min_remaining.mp3"},
	}
	assert.Equal(t, 2, model.ApplyOverrides(events, overrides))
	assert.Equal(t, "Begin writing", events[0].Label())
	assert.Equal(t, "Pens down", events[1].Label())
	assert.Equal(t, "15 minutes remaining", events[2].Label())

	assert.Equal(t, 0, model.ApplyOverrides(events, overrides))
}

func TestOverrideClient_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewOverrideClient(srv.URL, time.Second, nil)
	_, err := c.Fetch(context.Background())
	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, err.Error(), "404")

	assert.Nil(t, c.FetchOrWarn(context.Background()))
}

func TestOverrideClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewOverrideClient(srv.URL, time.Second, nil).Fetch(context.Background())
	assert.Error(t, err)
}

func TestOverrideClient_Disabled(t *testing.T) {
	c := NewOverrideClient("", 0, nil)
	assert.False(t, c.Enabled())

	overrides, err := c.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, overrides)
}
