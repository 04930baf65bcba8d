package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Report is the YAML export: rows grouped back into sessions
type Report struct {
	ExportedAt string          `yaml:"exportedat"`
	Sessions   []SessionReport `yaml:"sessions"`
}

type SessionReport struct {
	SessionID string       `yaml:"sessionid"`
	Turns     []TurnReport `yaml:"turns"`
}

type TurnReport struct {
	Role    string   `yaml:"role"`
	Content string   `yaml:"content"`
	Images  []string `yaml:"images,omitempty"`
}

// BuildReport groups rows by session, keeping first-seen session order
func BuildReport(rows []TurnRow, now time.Time) Report {
	report := Report{ExportedAt: now.Format("2006-01-02_15-04-05")}
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.SessionID]
		if !ok {
			i = len(report.Sessions)
			index[row.SessionID] = i
			report.Sessions = append(report.Sessions, SessionReport{SessionID: row.SessionID})
		}
		report.Sessions[i].Turns = append(report.Sessions[i].Turns, TurnReport{
			Role:    row.Role,
			Content: row.Content,
			Images:  row.Images,
		})
	}
	return report
}

func WriteYAML(w io.Writer, rows []TurnRow) error {
	report := BuildReport(rows, time.Now())
	data, err := yaml.Marshal(&report)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}
