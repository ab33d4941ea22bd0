package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/osint-research-service/internal/config"
	"github.com/helixir/osint-research-service/internal/database"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/research"
)

var replayFile string

var replayCmd = &cobra.Command{
	Use:   "replay [session-id]",
	Short: "Rebuild a session's final state from its audit trail",
	Long: `Replay folds a stored audit trail back into the session state and prints
the resulting counts. The trail is read from PostgreSQL by session ID, or
from a JSON Lines file written by "osint run --audit-file".

Examples:
  osint replay 7f1c1d5e-8d0e-4a36-9a55-5b8ef7f0d7a1
  osint replay --file acme.jsonl -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "Read the trail from a JSON Lines file")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	var (
		trail []research.AuditEvent
		err   error
	)
	switch {
	case replayFile != "":
		trail, err = loadTrailFile(replayFile)
	case len(args) == 1:
		trail, err = loadTrailFromDatabase(cmd.Context(), args[0])
	default:
		return fmt.Errorf("a session ID or --file is required")
	}
	if err != nil {
		return err
	}
	if len(trail) == 0 {
		return fmt.Errorf("audit trail is empty")
	}

	state, err := research.Replay(trail)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return printReplay(cmd.OutOrStdout(), len(trail), state, output)
}

func loadTrailFile(path string) ([]research.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	return readTrail(f)
}

func loadTrailFromDatabase(ctx context.Context, sessionID string) ([]research.AuditEvent, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("session ID must be a UUID: %q", sessionID)
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return repository.NewPgAuditRepository(db).ListEvents(ctx, sessionID)
}

// openDatabase connects with the storage settings only, so inspecting
// sessions needs no provider keys.
func openDatabase(ctx context.Context) (*database.DB, error) {
	cfg, err := config.LoadStorage(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.New(connectCtx, &cfg.Database, zerolog.Nop())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

type replayOutput struct {
	Events     int               `json:"events"`
	Progress   research.Progress `json:"progress"`
	Subject    string            `json:"subject"`
	RiskLevel  string            `json:"risk_level"`
	Terminated bool              `json:"terminated"`
}

func printReplay(w io.Writer, events int, state research.State, format string) error {
	out := replayOutput{
		Events:     events,
		Progress:   state.Progress(),
		Subject:    state.Subject,
		RiskLevel:  string(research.DeriveRiskLevel(state.RedFlags)),
		Terminated: state.Phase == research.PhaseDone || state.Phase == research.PhaseFailed,
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	p := out.Progress
	fmt.Fprintf(w, "Session:      %s\n", p.SessionID)
	fmt.Fprintf(w, "Subject:      %s\n", out.Subject)
	fmt.Fprintf(w, "Events:       %d\n", out.Events)
	fmt.Fprintf(w, "Phase:        %s\n", p.Phase)
	if p.TerminationReason != "" {
		fmt.Fprintf(w, "Stopped:      %s\n", p.TerminationReason)
	}
	fmt.Fprintf(w, "Depth:        %d/%d\n", p.CurrentDepth, p.MaxDepth)
	fmt.Fprintf(w, "Queries:      %d\n", p.QueriesExecuted)
	fmt.Fprintf(w, "Sources:      %d\n", p.SourcesFound)
	fmt.Fprintf(w, "Entities:     %d\n", p.EntitiesFound)
	fmt.Fprintf(w, "Connections:  %d\n", p.EdgesFound)
	fmt.Fprintf(w, "Red flags:    %d\n", p.RedFlags)
	fmt.Fprintf(w, "Errors:       %d\n", p.Errors)
	fmt.Fprintf(w, "Risk level:   %s\n", out.RiskLevel)
	return nil
}
