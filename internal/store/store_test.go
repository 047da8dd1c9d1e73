package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/examcast/internal/model"
)

type failingPersistence struct{}

func (failingPersistence) LoadAll() ([]model.ExamEvent, error) { return nil, errors.New("disk gone") }
func (failingPersistence) ReplaceAll([]model.ExamEvent) error  { return errors.New("disk gone") }
func (failingPersistence) Close() error                        { return nil }

func TestStore_AddSortsAndMerges(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	end := testEvent(t, "Math", model.CueExamEnd, base.Add(2*time.Hour))
	start := testEvent(t, "Math", model.CueExamStart, base)
	require.NoError(t, s.Add([]model.ExamEvent{end, start}))

	dist := testEvent(t, "Math", model.CueDistributePapers, base.Add(-15*time.Minute))
	require.NoError(t, s.Add([]model.ExamEvent{dist}))

	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, dist.ID, events[0].ID)
	assert.Equal(t, start.ID, events[1].ID)
	assert.Equal(t, end.ID, events[2].ID)
	assert.Equal(t, 3, s.Count())
}

func TestStore_AddIgnoresDuplicateIDs(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	e := testEvent(t, "Math", model.CueExamStart, base)
	require.NoError(t, s.Add([]model.ExamEvent{e, e}))
	require.NoError(t, s.Add([]model.ExamEvent{e}))
	assert.Equal(t, 1, s.Count())
}

func TestStore_AddRejectsInvalid(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	err := s.Add([]model.ExamEvent{{ID: "x"}})
	assert.ErrorIs(t, err, model.ErrEmptySubject)
	assert.Zero(t, s.Count())
}

func TestStore_EventsIsACopy(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add([]model.ExamEvent{testEvent(t, "Math", model.CueExamStart, base)}))
	events := s.Events()
	events[0].Subject = "changed"

	assert.Equal(t, "Math", s.Events()[0].Subject)
}

func TestStore_Get(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	e := testEvent(t, "Math", model.CueExamStart, base)
	require.NoError(t, s.Add([]model.ExamEvent{e}))

	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e.Subject, got.Subject)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_PersistAndHydrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	p1, err := NewJSONLPersistence(path, nil)
	require.NoError(t, err)
	s1 := NewStore(p1)

	a := testEvent(t, "Math", model.CueExamStart, base)
	b := testEvent(t, "Math", model.CueReminder, base.Add(45*time.Minute))
	require.NoError(t, s1.Add([]model.ExamEvent{b, a}))
	require.NoError(t, s1.Close())

	p2, err := NewJSONLPersistence(path, nil)
	require.NoError(t, err)
	s2 := NewStore(p2)
	defer s2.Close()
	require.NoError(t, s2.Hydrate())

	events := s2.Events()
	require.Len(t, events, 2)
	assert.Equal(t, a.ID, events[0].ID)
	assert.Equal(t, b.ID, events[1].ID)
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	p, err := NewJSONLPersistence(path, nil)
	require.NoError(t, err)
	s := NewStore(p)
	defer s.Close()

	require.NoError(t, s.Add([]model.ExamEvent{testEvent(t, "Math", model.CueExamStart, base)}))
	require.NoError(t, s.Clear())
	assert.Zero(t, s.Count())

	loaded, err := p.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

type countingPersistence struct {
	Persistence
	writes int
}

func (c *countingPersistence) ReplaceAll(events []model.ExamEvent) error {
	c.writes++
	return c.Persistence.ReplaceAll(events)
}

func TestStore_Replace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	jsonl, err := NewJSONLPersistence(path, nil)
	require.NoError(t, err)
	p := &countingPersistence{Persistence: jsonl}
	s := NewStore(p)
	defer s.Close()

	old := testEvent(t, "Math", model.CueExamStart, base)
	require.NoError(t, s.Add([]model.ExamEvent{old}))
	p.writes = 0

	ch := s.Subscribe()
	fresh := testEvent(t, "Physics", model.CueExamEnd, base.Add(time.Hour))
	require.NoError(t, s.Replace([]model.ExamEvent{fresh, fresh}))

	assert.Equal(t, 1, p.writes)
	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, fresh.ID, events[0].ID)
	_, ok := s.Get(old.ID)
	assert.False(t, ok)

	ev := <-ch
	assert.Equal(t, ChangeTypeReplace, ev.Type)
	assert.Equal(t, 1, ev.Count)

	loaded, err := jsonl.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, fresh.ID, loaded[0].ID)
}

func TestStore_ReplaceRejectsInvalid(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	old := testEvent(t, "Math", model.CueExamStart, base)
	require.NoError(t, s.Add([]model.ExamEvent{old}))

	err := s.Replace([]model.ExamEvent{{ID: "x"}})
	assert.ErrorIs(t, err, model.ErrEmptySubject)
	require.Equal(t, 1, s.Count())
	_, ok := s.Get(old.ID)
	assert.True(t, ok)
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	s := NewStore(failingPersistence{})
	defer s.Close()

	err := s.Add([]model.ExamEvent{testEvent(t, "Math", model.CueExamStart, base)})
	require.Error(t, err)
	assert.Equal(t, 1, s.Count())

	assert.Error(t, s.Hydrate())
	assert.Equal(t, 1, s.Count())
}

func TestStore_ApplyDisplayNames(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Add([]model.ExamEvent{
		testEvent(t, "Math", model.CueExamStart, base),
		testEvent(t, "Math", model.CueExamEnd, base.Add(time.Hour)),
	}))

	changed, err := s.ApplyDisplayNames([]model.DisplayOverride{{DefaultName: "exam_end", DisplayName: "Pens down"}})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, "Pens down", s.Events()[1].Label())

	changed, err = s.ApplyDisplayNames(nil)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(nil)

	ch := s.Subscribe()
	require.NoError(t, s.Add([]model.ExamEvent{testEvent(t, "Math", model.CueExamStart, base)}))

	select {
	case ev := <-ch:
		assert.Equal(t, ChangeTypeAdd, ev.Type)
		assert.Equal(t, 1, ev.Count)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	require.NoError(t, s.Clear())
	ev := <-ch
	assert.Equal(t, ChangeTypeClear, ev.Type)

	require.NoError(t, s.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStore_Closed(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Add([]model.ExamEvent{testEvent(t, "Math", model.CueExamStart, base)}), ErrStoreClosed)
	assert.ErrorIs(t, s.Clear(), ErrStoreClosed)
}

func TestSharedState_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	st, err := LoadSharedState()
	require.NoError(t, err)
	assert.Equal(t, "guangchuhecheng", st.LibraryOr("guangchuhecheng"))
	assert.True(t, st.AutoplayOr(true))

	st.Library = "default"
	st.SetOffline(true)
	st.SetAutoplay(false)
	require.NoError(t, SaveSharedState(st))

	loaded, err := LoadSharedState()
	require.NoError(t, err)
	assert.Equal(t, "default", loaded.LibraryOr("x"))
	assert.True(t, loaded.OfflineOr(false))
	assert.False(t, loaded.AutoplayOr(true))
	assert.NotZero(t, loaded.UpdatedAt)
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	p, err := EventsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "examcast", "events.jsonl"), p)

	p, err = CachePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "examcast", "cache.sqlite"), p)
}
