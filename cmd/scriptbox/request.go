package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/engine"
	"github.com/okanya/scriptbox/internal/notification"
)

var (
	requestConfigPath string

	submitFile     string
	submitTitle    string
	submitLanguage string
	submitDatabase string
	submitInstance string
	submitDBName   string
	submitBy       string

	listStatus string
	listLimit  int

	reviewBy     string
	reviewReason string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage script requests through the approval workflow",
	Long: `Submit scripts for review, list and inspect pending requests,
approve or reject them, and execute approved ones.

Examples:
  scriptbox request submit --file cleanup.js --title "Purge stale sessions" \
      --database postgresql --instance orders-primary --db orders
  scriptbox request list --status pending
  scriptbox request approve 4f8e7d6c-... --by alice
  scriptbox request run 4f8e7d6c-...`,
}

var requestSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a script for review",
	RunE:  runRequestSubmit,
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List script requests, newest first",
	RunE:  runRequestList,
}

var requestShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Print one request in full, including any execution result",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestShow,
}

var requestApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestReview(true),
}

var requestRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestReview(false),
}

var requestRunCmd = &cobra.Command{
	Use:   "run <request-id>",
	Short: "Execute an approved request and record the outcome",
	Long: `Execute an approved request against its target instance. The result
is stored on the request record, notifications are dispatched, and the
full execution result is printed as JSON on stdout.

Exit codes:
  0  script executed successfully
  1  execution failed or request not runnable
  3  instance unreachable`,
	Args: cobra.ExactArgs(1),
	RunE: runRequestRun,
}

func init() {
	requestCmd.AddCommand(requestSubmitCmd, requestListCmd, requestShowCmd,
		requestApproveCmd, requestRejectCmd, requestRunCmd)
	requestCmd.PersistentFlags().StringVar(&requestConfigPath, "config", config.DefaultConfigPath(), "path to config file")

	requestSubmitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "script file to submit (required)")
	requestSubmitCmd.Flags().StringVarP(&submitTitle, "title", "t", "", "one-line description of what the script does (required)")
	requestSubmitCmd.Flags().StringVarP(&submitLanguage, "language", "l", "", "script language (inferred from the file extension when omitted)")
	requestSubmitCmd.Flags().StringVarP(&submitDatabase, "database", "d", "", "database kind: postgresql or mongodb (required)")
	requestSubmitCmd.Flags().StringVarP(&submitInstance, "instance", "i", "", "target instance name (required)")
	requestSubmitCmd.Flags().StringVar(&submitDBName, "db", "", "database name the script operates on")
	requestSubmitCmd.Flags().StringVar(&submitBy, "requested-by", os.Getenv("USER"), "who is asking for this script to run")
	_ = requestSubmitCmd.MarkFlagRequired("file")
	_ = requestSubmitCmd.MarkFlagRequired("title")
	_ = requestSubmitCmd.MarkFlagRequired("database")
	_ = requestSubmitCmd.MarkFlagRequired("instance")

	requestListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, approved, rejected, executed, failed, expired)")
	requestListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of requests to print")

	for _, cmd := range []*cobra.Command{requestApproveCmd, requestRejectCmd} {
		cmd.Flags().StringVar(&reviewBy, "by", os.Getenv("USER"), "reviewer identity")
		cmd.Flags().StringVar(&reviewReason, "reason", "", "review note recorded on the request")
	}
}

func runRequestSubmit(_ *cobra.Command, _ []string) error {
	script, err := os.ReadFile(submitFile)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	lang, err := resolveLanguage(submitLanguage, submitFile)
	if err != nil {
		return err
	}
	kind := domain.DatabaseKind(strings.ToLower(submitDatabase))
	if !kind.Valid() {
		return fmt.Errorf("unsupported database kind %q (use postgresql or mongodb)", submitDatabase)
	}

	// Reject scripts that would fail validation anyway before queueing them
	// for a human.
	if vr := engine.NewValidator().Validate(string(script), lang); !vr.Valid {
		out, _ := json.MarshalIndent(vr, "", "  ")
		fmt.Println(string(out))
		os.Exit(ExitRejected)
	}

	sc, err := initRequestComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := sc.Approvals.Submit(ctx, approval.SubmitRequest{
		Title:        submitTitle,
		Script:       string(script),
		Language:     lang,
		DatabaseKind: kind,
		InstanceName: submitInstance,
		DatabaseName: submitDBName,
		RequestedBy:  submitBy,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Submitted request %s\n", req.ID)
	fmt.Printf("  Title:    %s\n", req.Title)
	fmt.Printf("  Instance: %s (%s)\n", req.InstanceName, req.DatabaseKind)
	fmt.Printf("  Status:   %s\n", req.Status)
	fmt.Printf("  Expires:  %s\n", req.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func runRequestList(_ *cobra.Command, _ []string) error {
	sc, err := initRequestComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	filter := approval.ListFilter{Limit: listLimit}
	if listStatus != "" {
		status, ok := domain.ParseRequestStatus(strings.ToLower(listStatus))
		if !ok {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter.Status = &status
	}

	reqs, err := sc.Approvals.List(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Println("No requests found.")
		return nil
	}

	fmt.Printf("%-36s  %-9s  %-10s  %-11s  %-20s  %-16s  %s\n",
		"ID", "STATUS", "LANGUAGE", "DATABASE", "INSTANCE", "SUBMITTED", "TITLE")
	for _, r := range reqs {
		fmt.Printf("%-36s  %-9s  %-10s  %-11s  %-20s  %-16s  %s\n",
			r.ID, r.Status, r.Language, r.DatabaseKind, r.InstanceName,
			r.SubmittedAt.Local().Format("2006-01-02 15:04"), r.Title)
	}
	return nil
}

func runRequestShow(_ *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid request ID %q: %w", args[0], err)
	}

	sc, err := initRequestComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	req, err := sc.Approvals.Get(context.Background(), id)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runRequestReview builds the approve and reject handlers, which differ only
// in the manager call and the printed verb.
func runRequestReview(approve bool) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid request ID %q: %w", args[0], err)
		}
		if reviewBy == "" {
			return errors.New("--by is required (or set USER)")
		}

		sc, err := initRequestComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		ctx := context.Background()
		verb := "Rejected"
		if approve {
			err = sc.Approvals.Approve(ctx, id, reviewBy, reviewReason)
			verb = "Approved"
		} else {
			err = sc.Approvals.Reject(ctx, id, reviewBy, reviewReason)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s request %s (by %s)\n", verb, id, reviewBy)

		req, err := sc.Approvals.Get(ctx, id)
		if err == nil {
			notifyReview(ctx, sc, req)
		}
		return nil
	}
}

func runRequestRun(_ *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid request ID %q: %w", args[0], err)
	}

	sc, err := initRequestComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := sc.Approvals.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != domain.StatusApproved {
		return fmt.Errorf("request %s is %s: %w", id, req.Status, approval.ErrNotApproved)
	}

	if err := preflightGate(ctx, sc, req.DatabaseKind, req.InstanceName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(sc, ExitUnreachable)
	}

	if sc.Obs != nil && sc.Obs.Metrics != nil {
		sc.Obs.Metrics.ActiveExecutions.Inc()
	}
	res := sc.Engine.Execute(ctx, engine.Request{
		ExecutionID:  req.ID.String(),
		Script:       req.Script,
		Language:     req.Language,
		DatabaseKind: req.DatabaseKind,
		InstanceName: req.InstanceName,
		DatabaseName: req.DatabaseName,
	})
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		sc.Obs.Metrics.ActiveExecutions.Dec()
	}
	recordOutcome(sc, req.InstanceName, res.Success)

	resultJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	status := domain.StatusExecuted
	if res.Success {
		err = sc.Approvals.MarkExecuted(ctx, id, resultJSON)
	} else {
		status = domain.StatusFailed
		err = sc.Approvals.MarkFailed(ctx, id, resultJSON)
	}
	if err != nil {
		sc.Logger.Error("recording execution outcome",
			slog.String("request_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	if sc.Dispatcher != nil {
		sc.Dispatcher.NotifyOutcome(ctx, &notification.Outcome{
			RequestID:    req.ID,
			Title:        req.Title,
			InstanceName: req.InstanceName,
			DatabaseName: req.DatabaseName,
			DatabaseKind: req.DatabaseKind,
			Language:     req.Language,
			Status:       status,
			Summary:      summarizeResult(res),
			RequestedBy:  req.RequestedBy,
			ReviewedBy:   req.ReviewedBy,
			Duration:     res.Duration.Duration(),
		})
	}

	printResult(res)
	if !res.Success {
		exit(sc, exitCodeFor(res))
	}
	return nil
}

// notifyReview dispatches a review outcome notification, if configured.
func notifyReview(ctx context.Context, sc *SharedComponents, req *domain.ScriptRequest) {
	if sc.Dispatcher == nil {
		return
	}
	sc.Dispatcher.NotifyOutcome(ctx, &notification.Outcome{
		RequestID:    req.ID,
		Title:        req.Title,
		InstanceName: req.InstanceName,
		DatabaseName: req.DatabaseName,
		DatabaseKind: req.DatabaseKind,
		Language:     req.Language,
		Status:       req.Status,
		RequestedBy:  req.RequestedBy,
		ReviewedBy:   req.ReviewedBy,
	})
}

// summarizeResult condenses a result into the one-liner carried by
// notifications and request records.
func summarizeResult(res *engine.Result) string {
	if !res.Success {
		if res.Error != nil {
			return fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Message)
		}
		return "execution failed"
	}
	s := res.Summary
	if s.TotalOperations > 0 || s.DocumentsProcessed > 0 {
		return fmt.Sprintf("%d operations, %d documents processed", s.TotalOperations, s.DocumentsProcessed)
	}
	return fmt.Sprintf("%d queries, %d rows returned, %d rows affected", s.TotalQueries, s.RowsReturned, s.RowsAffected)
}

// initRequestComponents loads config and builds shared components with a
// quiet logger, keeping stdout clean for command output.
func initRequestComponents() (*SharedComponents, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.Load(goutils.Env("SCRIPTBOX_CONFIG", requestConfigPath))
	if err != nil {
		return nil, err
	}
	return initShared(cfg, logger)
}
