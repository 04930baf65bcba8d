package export

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/storage"
)

func seed(t *testing.T) (*storage.SessionStore, []string) {
	t.Helper()
	store := storage.New(t.TempDir())
	require.NoError(t, store.Save("a", models.Transcript{
		{Role: models.RoleUser, Content: "what is this", Images: []string{"/x/roi_0_1_1_5_5.png"}},
		{Role: models.RoleAssistant, Content: "tumour"},
	}))
	require.NoError(t, store.Save("b", models.Transcript{
		{Role: models.RoleUser, Content: "hi"},
	}))
	ids, err := store.List()
	require.NoError(t, err)
	return store, ids
}

func TestRows(t *testing.T) {
	store, ids := seed(t)
	rows := Rows(store, ids)
	require.Len(t, rows, 3)
	assert.Equal(t, TurnRow{SessionID: "a", Turn: 0, Role: "user", Content: "what is this", Images: []string{"/x/roi_0_1_1_5_5.png"}}, rows[0])
	assert.Equal(t, int32(1), rows[1].Turn)
	assert.Equal(t, "b", rows[2].SessionID)
}

func TestParquetRoundTrip(t *testing.T) {
	store, ids := seed(t)
	path := filepath.Join(t.TempDir(), "history.parquet")
	require.NoError(t, WriteFile(path, Rows(store, ids)))

	rows, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].SessionID)
	assert.Equal(t, []string{"/x/roi_0_1_1_5_5.png"}, rows[0].Images)
	assert.Equal(t, "tumour", rows[1].Content)
	assert.Empty(t, rows[2].Images)
}

func TestJSONL(t *testing.T) {
	store, ids := seed(t)
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, WriteFile(path, Rows(store, ids)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []TurnRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row TurnRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		lines = append(lines, row)
	}
	require.NoError(t, scanner.Err())
	assert.Len(t, lines, 3)
}

func TestWriteFileRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	assert.Error(t, WriteFile(path, nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestYAMLReport(t *testing.T) {
	store, ids := seed(t)
	report := BuildReport(Rows(store, ids), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-03-01_12-00-00", report.ExportedAt)
	require.Len(t, report.Sessions, 2)
	assert.Equal(t, "a", report.Sessions[0].SessionID)
	assert.Len(t, report.Sessions[0].Turns, 2)
	assert.Len(t, report.Sessions[1].Turns, 1)

	path := filepath.Join(t.TempDir(), "history.yaml")
	require.NoError(t, WriteFile(path, Rows(store, ids)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "tumour", decoded.Sessions[0].Turns[1].Content)
}
