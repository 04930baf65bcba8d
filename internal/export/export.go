// Package export flattens stored chat transcripts into rows for offline
// analysis, as Parquet, JSONL or YAML.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/storage"
)

// TurnRow is one chat turn of one session
type TurnRow struct {
	SessionID string   `parquet:"session_id" json:"session_id"`
	Turn      int32    `parquet:"turn" json:"turn"`
	Role      string   `parquet:"role" json:"role"`
	Content   string   `parquet:"content" json:"content"`
	Images    []string `parquet:"images" json:"images,omitempty"`
}

// Rows flattens the raw transcripts of the given sessions, in order. Stored
// records are exported as-is, before any retention policy.
func Rows(store *storage.SessionStore, sessionIDs []string) []TurnRow {
	var rows []TurnRow
	for _, id := range sessionIDs {
		rows = append(rows, TranscriptRows(id, store.Load(id))...)
	}
	return rows
}

func TranscriptRows(sessionID string, t models.Transcript) []TurnRow {
	rows := make([]TurnRow, len(t))
	for i, turn := range t {
		rows[i] = TurnRow{
			SessionID: sessionID,
			Turn:      int32(i),
			Role:      turn.Role,
			Content:   turn.Content,
			Images:    turn.Images,
		}
	}
	return rows
}

// WriteFile writes rows to path, choosing the format from the extension
func WriteFile(path string, rows []TurnRow) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".parquet", ".jsonl", ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl, .yaml)", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	switch ext {
	case ".parquet":
		err = WriteParquet(f, rows)
	case ".yaml", ".yml":
		err = WriteYAML(f, rows)
	default:
		err = WriteJSONL(f, rows)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	slog.Info("Exported chat history", "path", path, "rows", len(rows))
	return nil
}

func WriteParquet(w io.Writer, rows []TurnRow) error {
	writer := parquet.NewGenericWriter[TurnRow](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

func WriteJSONL(w io.Writer, rows []TurnRow) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	return bw.Flush()
}

// ReadParquet loads every row of a file written by WriteParquet
func ReadParquet(path string) ([]TurnRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[TurnRow](pf)
	defer reader.Close()

	rows := make([]TurnRow, 0, pf.NumRows())
	batch := make([]TurnRow, 128)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return rows, nil
}
