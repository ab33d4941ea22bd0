package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/osint-research-service/internal/app"
	"github.com/helixir/osint-research-service/internal/config"
	"github.com/helixir/osint-research-service/internal/research"
)

var (
	runSubject     string
	runContext     string
	runMaxDepth    int
	runAuditFile   string
	runReportsDir  string
	runVerbose     bool
	runSessionID   string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Research a subject in-process",
	Long: `Run a research session against the configured LLM and search providers
without Temporal. The audit trail is kept in memory and optionally written
to a JSON Lines file that "osint replay --file" can read back.

Examples:
  osint run --subject "Jane Roe" --context "former CFO of Acme Ltd"
  osint run --subject "Acme Ltd" --max-depth 2 --audit-file acme.jsonl -o json`,
	Args: cobra.NoArgs,
	RunE: runResearch,
}

func init() {
	runCmd.Flags().StringVar(&runSubject, "subject", "", "Subject to research (required)")
	runCmd.Flags().StringVar(&runContext, "context", "", "What is already known about the subject")
	runCmd.Flags().IntVar(&runMaxDepth, "max-depth", 0, "Maximum research rounds (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Concurrent searches per round (default from config)")
	runCmd.Flags().StringVar(&runAuditFile, "audit-file", "", "Write the audit trail to this JSON Lines file")
	runCmd.Flags().StringVar(&runReportsDir, "reports-dir", "", "Override the reports directory")
	runCmd.Flags().StringVar(&runSessionID, "session-id", "", "Session ID (default random)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log engine progress to stderr")
	_ = runCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(runCmd)
}

func runResearch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runReportsDir != "" {
		cfg.Research.ReportsDir = runReportsDir
	}

	level := zerolog.WarnLevel
	if runVerbose {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	limits := cfg.Research.Limits()
	if runConcurrency > 0 {
		limits.MaxConcurrentSearches = runConcurrency
	}
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return err
	}

	collaborators, err := app.NewCollaborators(cfg, nil, logger)
	if err != nil {
		return err
	}

	memory := research.NewMemorySink()
	var secondary []research.AuditSink
	if runAuditFile != "" {
		trail, err := createFileTrail(runAuditFile)
		if err != nil {
			return err
		}
		defer trail.Close()
		secondary = append(secondary, trail)
	}

	reports, err := app.NewReportStore(cfg.Research, nil, logger)
	if err != nil {
		return err
	}

	rt := research.Runtime{
		Clock:   research.SystemClock{},
		Planner: collaborators.Planner,
		Searcher: research.NewFanout(collaborators.Searcher, limits.MaxConcurrentSearches,
			time.Duration(limits.SearchTimeoutSeconds)*time.Second,
			research.WithFanoutLogger(logger)),
		Analyzer: collaborators.Analyzer,
		Matcher:  collaborators.Matcher,
		Mapper:   collaborators.Mapper,
		Narrator: collaborators.Narrator,
		Audit:    app.NewAuditSink(memory, logger, secondary...),
		Reports:  reports,
	}

	engine, err := research.NewEngine(rt, limits,
		research.WithLogger(logger),
		research.WithModels(collaborators.Models),
		research.WithObserver(progressPrinter(cmd.ErrOrStderr(), runVerbose)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	result, err := engine.Run(ctx, research.Input{
		SessionID: sessionID,
		Subject:   runSubject,
		Context:   runContext,
		MaxDepth:  runMaxDepth,
	})
	if err != nil {
		return err
	}

	if err := printResult(cmd.OutOrStdout(), result, output); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("session failed: %s", result.FailureReason)
	}
	return nil
}

// progressPrinter writes one line per phase change when verbose.
func progressPrinter(w io.Writer, verbose bool) func(research.State) {
	var last research.Phase
	return func(s research.State) {
		if !verbose || s.Phase == last {
			return
		}
		last = s.Phase
		p := s.Progress()
		fmt.Fprintf(w, "depth %d/%d  %-18s queries=%d sources=%d entities=%d\n",
			p.CurrentDepth, p.MaxDepth, p.Phase, p.QueriesExecuted, p.SourcesFound, p.EntitiesFound)
	}
}

func printResult(w io.Writer, result *research.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	p := result.Progress
	fmt.Fprintf(w, "Session:      %s\n", result.SessionID)
	fmt.Fprintf(w, "Success:      %t\n", result.Success)
	if result.TerminationReason != "" {
		fmt.Fprintf(w, "Stopped:      %s\n", result.TerminationReason)
	}
	if result.FailureReason != "" {
		fmt.Fprintf(w, "Failure:      %s\n", result.FailureReason)
	}
	fmt.Fprintf(w, "Depth:        %d/%d\n", p.CurrentDepth, p.MaxDepth)
	fmt.Fprintf(w, "Queries:      %d\n", p.QueriesExecuted)
	fmt.Fprintf(w, "Sources:      %d\n", p.SourcesFound)
	fmt.Fprintf(w, "Entities:     %d\n", p.EntitiesFound)
	fmt.Fprintf(w, "Connections:  %d\n", p.EdgesFound)
	fmt.Fprintf(w, "Red flags:    %d\n", p.RedFlags)
	fmt.Fprintf(w, "Errors:       %d\n", p.Errors)
	if result.Report != nil {
		fmt.Fprintf(w, "Risk level:   %s\n", result.Report.RiskLevel)
	}
	if result.ReportLocation != "" {
		fmt.Fprintf(w, "Report:       %s\n", result.ReportLocation)
	}
	return nil
}
