package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/engine"
)

// Exit codes for the execution commands.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitRejected    = 2
	ExitUnreachable = 3
)

var (
	runConfigPath string
	runLanguage   string
	runDatabase   string
	runInstance   string
	runDBName     string
	runTimeout    int
)

var runCmd = &cobra.Command{
	Use:   "run <script-file>",
	Short: "Execute a script immediately, bypassing the approval queue",
	Long: `Execute a script file directly against a registered instance.
This is the operator path for interactive use. Scripts submitted by
others go through 'scriptbox request submit' and human review instead.

The full execution result is printed as JSON on stdout.

Examples:
  scriptbox run cleanup.js --database postgresql --instance orders-primary --db orders
  scriptbox run reindex.py --database mongodb --instance catalog --db products --timeout 120

Exit codes:
  0  script executed successfully
  1  execution failed
  2  validation rejected the script
  3  instance unreachable`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().StringVarP(&runLanguage, "language", "l", "", "script language (inferred from the file extension when omitted)")
	runCmd.Flags().StringVarP(&runDatabase, "database", "d", "", "database kind: postgresql or mongodb (required)")
	runCmd.Flags().StringVarP(&runInstance, "instance", "i", "", "target instance name (required)")
	runCmd.Flags().StringVar(&runDBName, "db", "", "database name the script operates on")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "execution timeout in seconds (0 = configured default)")
	_ = runCmd.MarkFlagRequired("database")
	_ = runCmd.MarkFlagRequired("instance")
}

func runRun(_ *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(goutils.Env("SCRIPTBOX_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	script, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	lang, err := resolveLanguage(runLanguage, args[0])
	if err != nil {
		return err
	}
	kind := domain.DatabaseKind(strings.ToLower(runDatabase))
	if !kind.Valid() {
		return fmt.Errorf("unsupported database kind %q (use postgresql or mongodb)", runDatabase)
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := preflightGate(ctx, sc, kind, runInstance); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(sc, ExitUnreachable)
	}

	req := engine.Request{
		Script:       string(script),
		Language:     lang,
		DatabaseKind: kind,
		InstanceName: runInstance,
		DatabaseName: runDBName,
	}
	if runTimeout > 0 {
		req.Timeout = time.Duration(runTimeout) * time.Second
	}

	res := sc.Engine.Execute(ctx, req)
	recordOutcome(sc, runInstance, res.Success)
	printResult(res)

	if !res.Success {
		exit(sc, exitCodeFor(res))
	}
	return nil
}

// recordOutcome feeds the per-instance failure rate detector.
func recordOutcome(sc *SharedComponents, instance string, success bool) {
	if sc.Obs == nil {
		return
	}
	if success {
		sc.Obs.Anomaly.RecordSuccess(instance)
	} else {
		sc.Obs.Anomaly.RecordFailure(instance)
	}
}

// exit tears down shared components before leaving with the given code.
// Deferred cleanups do not run across os.Exit.
func exit(sc *SharedComponents, code int) {
	sc.Cleanup()
	os.Exit(code)
}

// preflightGate probes the target instance when preflight is enabled.
func preflightGate(ctx context.Context, sc *SharedComponents, kind domain.DatabaseKind, instanceName string) error {
	cfg := sc.Config
	if cfg.Preflight == nil || !cfg.Preflight.Enabled {
		return nil
	}
	inst, err := sc.Registry.Lookup(ctx, kind, instanceName)
	if err != nil {
		return err
	}
	if err := sc.Prober.Check(ctx, inst); err != nil {
		return fmt.Errorf("instance %s unreachable: %w", instanceName, err)
	}
	return nil
}

// printResult writes the execution result as indented JSON on stdout.
func printResult(res *engine.Result) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

// exitCodeFor maps a failed result to its exit code.
func exitCodeFor(res *engine.Result) int {
	if res.Error != nil {
		switch res.Error.Type {
		case engine.ErrTypeValidation, engine.ErrTypeSyntax:
			return ExitRejected
		case engine.ErrTypeInstanceConfig, engine.ErrTypeWorkerNotFound:
			return ExitUnreachable
		}
	}
	return ExitFailure
}
