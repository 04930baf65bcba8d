package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wanglab/roichat/internal/export"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect, reset and export stored chat sessions",
	}
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryResetCmd())
	cmd.AddCommand(newHistoryExportCmd())
	return cmd
}

func historyStore() (*storage.SessionStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.New(cfg.ChatHistoryDir), nil
}

func newHistoryShowCmd() *cobra.Command {
	var sessionID string
	var raw bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a session's transcript, or list sessions when none is given",
		Example: `  # List stored sessions
  roichat history show

  # Show the transcript the model would see next
  roichat history show --session abc123

  # Show the record exactly as stored
  roichat history show --session abc123 --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore()
			if err != nil {
				return err
			}
			if sessionID == "" {
				ids, err := store.List()
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Printf("%s\t%d turns\n", id, len(store.Load(id)))
				}
				return nil
			}
			if err := sessions.ValidateID(sessionID); err != nil {
				return err
			}

			transcript := store.LoadRetained(sessionID)
			if raw {
				transcript = store.Load(sessionID)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(transcript)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session to print")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip the attachment retention policy")

	return cmd
}

func newHistoryResetCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a session's transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore()
			if err != nil {
				return err
			}
			if err := store.Reset(sessions.IDOrDefault(sessionID)); err != nil {
				return err
			}
			fmt.Printf("Cleared chat for %s\n", sessions.IDOrDefault(sessionID))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", sessions.DefaultID, "Session to clear")

	return cmd
}

func newHistoryExportCmd() *cobra.Command {
	var output string
	var sessionIDs []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transcripts as Parquet, JSONL or YAML",
		Example: `  # Export every session
  roichat history export --output history.parquet

  # Export two sessions as JSONL
  roichat history export --output history.jsonl --session abc123 --session def456`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore()
			if err != nil {
				return err
			}
			ids := sessionIDs
			if len(ids) == 0 {
				if ids, err = store.List(); err != nil {
					return err
				}
			}
			for _, id := range ids {
				if err := sessions.ValidateID(id); err != nil {
					return fmt.Errorf("%w: %q", err, id)
				}
			}

			rows := export.Rows(store, ids)
			if err := export.WriteFile(output, rows); err != nil {
				return err
			}
			fmt.Printf("Exported %d turns from %d session(s) to %s\n", len(rows), len(ids), output)
			if len(ids) > 0 {
				fmt.Println("Sessions: " + strings.Join(ids, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "chat_history.parquet", "Output file (.parquet, .jsonl or .yaml)")
	cmd.Flags().StringSliceVar(&sessionIDs, "session", nil, "Sessions to export (default: all)")

	return cmd
}
