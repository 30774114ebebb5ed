package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"profilerd/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleSession(id, label string) model.TrainingSession {
	return model.TrainingSession{
		ID:        id,
		Label:     label,
		Platform:  "web",
		CreatedAt: time.Now(),
		RawEvents: []model.KeystrokeEvent{
			{Key: "a", Timestamp: 100, Type: model.KeyDown},
			{Key: "a", Timestamp: 180, Type: model.KeyUp},
		},
	}
}

func TestInsertAndGetSession(t *testing.T) {
	st := openTestStore(t)

	session := sampleSession("s1", "alice")
	require.NoError(t, st.InsertSession(session))

	got, err := st.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "alice", got.Label)
	require.Equal(t, "web", got.Platform)
	require.Len(t, got.RawEvents, 2)
}

func TestGetSessionMissingReturnsNilNil(t *testing.T) {
	st := openTestStore(t)

	got, err := st.GetSession("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAllLabeledSessionsExcludesUnknownAndEmpty(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.InsertSession(sampleSession("s1", "alice")))
	require.NoError(t, st.InsertSession(sampleSession("s2", "bob")))
	require.NoError(t, st.InsertSession(sampleSession("s3", model.UnknownLabel)))

	sessions, err := st.AllLabeledSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.NotEqual(t, model.UnknownLabel, s.Label)
	}
}

func TestCountReflectsInsertedRows(t *testing.T) {
	st := openTestStore(t)

	n, err := st.Count()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, st.InsertSession(sampleSession("s1", "alice")))
	require.NoError(t, st.InsertSession(sampleSession("s2", "bob")))

	n, err = st.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestInsertSessionTruncatesOversizedFields(t *testing.T) {
	st := openTestStore(t)

	longLabel := ""
	for i := 0; i < 200; i++ {
		longLabel += "x"
	}
	session := sampleSession("s1", longLabel)
	require.NoError(t, st.InsertSession(session))

	got, err := st.GetSession("s1")
	require.NoError(t, err)
	require.LessOrEqual(t, len(got.Label), 100)
}
