package transcript

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmrepl/internal/conversation"
)

func sampleMessages() []conversation.Message {
	return []conversation.Message{
		{ID: 0, Role: "user", Content: "What is a qubit?", Timestamp: "2024-05-01T09:00:00.000000", Metadata: map[string]interface{}{"channel": "web"}, Tokens: 4},
		{ID: 1, Role: "assistant", Content: "A qubit is a two-level quantum system.", Timestamp: "2024-05-01T09:00:05.000000", Tokens: 9},
		{ID: 2, Role: "system", Content: "note", Timestamp: "2024-05-01T09:01:00.000000", Tokens: 1},
	}
}

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "transcripts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_RecordLoad(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	for _, m := range sampleMessages() {
		require.NoError(t, s.Record(ctx, "alpha", m))
	}
	// idempotent per (session, id)
	require.NoError(t, s.Record(ctx, "alpha", sampleMessages()[0]))
	require.NoError(t, s.Record(ctx, "beta", sampleMessages()[1]))

	got, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	if diff := cmp.Diff(sampleMessages(), got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	empty, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLite_Sessions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	msgs := sampleMessages()

	require.NoError(t, s.Record(ctx, "old", msgs[0]))
	for _, m := range msgs {
		require.NoError(t, s.Record(ctx, "new", m))
	}

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, SessionInfo{ID: "new", Messages: 3, First: msgs[0].Timestamp, Last: msgs[2].Timestamp}, sessions[0])
	assert.Equal(t, "old", sessions[1].ID)

	require.NoError(t, s.Delete(ctx, "new"))
	sessions, err = s.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestJSONL_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, "alpha", sampleMessages()))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	got, err := ReadJSONL(context.Background(), &buf, "alpha")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "A qubit is a two-level quantum system.", got[1].Content)
	assert.Equal(t, "web", got[0].Metadata["channel"])
	assert.Equal(t, 2, got[2].ID)
}

func TestReadJSONL(t *testing.T) {
	input := `{"role":"user","content":"hi"}

{"session":"other","role":"user","content":"skip me"}
{"session":"s1","role":"assistant","content":"hello","timestamp":"2024-01-01T00:00:00Z"}
`
	got, err := ReadJSONL(context.Background(), strings.NewReader(input), "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, 1, got[1].ID)

	all, err := ReadJSONL(context.Background(), strings.NewReader(input), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = ReadJSONL(context.Background(), strings.NewReader(`{"content":"no role"}`), "")
	assert.ErrorContains(t, err, "line 1: missing role")

	_, err = ReadJSONL(context.Background(), strings.NewReader("not json\n"), "")
	assert.ErrorContains(t, err, "line 1")
}

func TestJSONLFile_Missing(t *testing.T) {
	_, err := JSONLFile{Path: filepath.Join(t.TempDir(), "nope.jsonl")}.Load(context.Background(), "")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-05-01T09:00:05.000000", time.Date(2024, 5, 1, 9, 0, 5, 0, time.UTC), true},
		{"2024-05-01T09:00:05+02:00", time.Date(2024, 5, 1, 7, 0, 5, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: %v", tt.in, got)
	}
}
