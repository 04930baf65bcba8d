package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/sessions"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("png"), 0644))
	return path
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	transcript := s.Load("abc123")
	assert.NotNil(t, transcript)
	assert.Empty(t, transcript)
}

func TestLoadCorruptReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc123.json"), []byte("{not json"), 0644))

	s := New(dir)
	assert.Empty(t, s.Load("abc123"))
}

func TestLoadInvalidSessionID(t *testing.T) {
	s := New(t.TempDir())
	assert.Empty(t, s.Load("../escape"))
	assert.ErrorIs(t, s.Save("../escape", nil), sessions.ErrInvalidID)
	assert.ErrorIs(t, s.Reset("../escape"), sessions.ErrInvalidID)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chat_sessions")
	s := New(dir)
	img := touch(t, filepath.Join(t.TempDir(), "roi_0_1_2_3_4.png"))

	transcript := models.Transcript{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
		{Role: models.RoleUser, Content: "what is this?", Images: []string{img}},
	}
	require.NoError(t, s.Save("abc123", transcript))

	_, err := os.Stat(filepath.Join(dir, "abc123.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must not survive")

	loaded := s.Load("abc123")
	assert.Equal(t, transcript, loaded)
}

func TestSaveFailureKeepsPreviousRecord(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	previous := models.Transcript{{Role: models.RoleUser, Content: "first"}}
	require.NoError(t, s.Save("abc123", previous))

	// a directory in the temp file's place makes the write fail
	tmp := filepath.Join(dir, "abc123.json.tmp")
	require.NoError(t, os.Mkdir(tmp, 0755))

	err := s.Save("abc123", models.Transcript{{Role: models.RoleUser, Content: "second"}})
	require.Error(t, err)
	assert.NoDirExists(t, tmp)
	assert.NoFileExists(t, tmp)
	assert.Equal(t, previous, s.Load("abc123"))
}

func TestSaveOmitsEmptyImages(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save("abc123", models.Transcript{{Role: models.RoleUser, Content: "x", Images: []string{}}}))

	data, err := os.ReadFile(filepath.Join(dir, "abc123.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "images")
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save("abc123", models.Transcript{{Role: models.RoleUser, Content: "x"}}))

	require.NoError(t, s.Reset("abc123"))
	assert.Empty(t, s.Load("abc123"))
	// second reset is a no-op
	require.NoError(t, s.Reset("abc123"))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	ids, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Save("b", models.Transcript{}))
	require.NoError(t, s.Save("a", models.Transcript{}))
	touch(t, filepath.Join(dir, "notes.txt"))

	ids, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestListMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	ids, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestApplyRetentionPolicy(t *testing.T) {
	tmp := t.TempDir()
	old := touch(t, filepath.Join(tmp, "roi_0_0_0_5_5.png"))
	kept := touch(t, filepath.Join(tmp, "roi_1_5_5_9_9.png"))
	gone := filepath.Join(tmp, "roi_2_1_1_2_2.png")

	tests := []struct {
		name       string
		transcript models.Transcript
		lastImages []string
	}{
		{
			name:       "empty",
			transcript: models.Transcript{},
		},
		{
			name: "single turn keeps existing images",
			transcript: models.Transcript{
				{Role: models.RoleUser, Content: "a", Images: []string{kept, gone}},
			},
			lastImages: []string{kept},
		},
		{
			name: "older turns lose images",
			transcript: models.Transcript{
				{Role: models.RoleUser, Content: "a", Images: []string{old}},
				{Role: models.RoleAssistant, Content: "b"},
				{Role: models.RoleUser, Content: "c", Images: []string{gone, kept}},
			},
			lastImages: []string{kept},
		},
		{
			name: "last turn without images",
			transcript: models.Transcript{
				{Role: models.RoleUser, Content: "a", Images: []string{old}},
				{Role: models.RoleAssistant, Content: "b"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.transcript.Clone()
			out := ApplyRetentionPolicy(tt.transcript)

			require.Len(t, out, len(tt.transcript))
			assert.Equal(t, before, tt.transcript, "input must not be modified")
			for i := 0; i < len(out)-1; i++ {
				assert.Nil(t, out[i].Images, "turn %d", i)
			}
			if len(out) > 0 {
				if tt.lastImages == nil {
					assert.Empty(t, out[len(out)-1].Images)
				} else {
					assert.Equal(t, tt.lastImages, out[len(out)-1].Images)
				}
			}
		})
	}
}

func TestLoadRetained(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	img := touch(t, filepath.Join(t.TempDir(), "roi.png"))

	require.NoError(t, s.Save("abc123", models.Transcript{
		{Role: models.RoleUser, Content: "a", Images: []string{img}},
		{Role: models.RoleAssistant, Content: "b"},
	}))

	out := s.LoadRetained("abc123")
	require.Len(t, out, 2)
	assert.Nil(t, out[0].Images)
}
