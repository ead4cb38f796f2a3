// Package engine implements the sandboxed script execution engine: static
// validation, worker artifact resolution, isolated worker process lifecycle,
// the ready/execute handshake, timeout enforcement, and result
// normalization.
//
// Execute never returns a Go error. Every outcome, including validation
// rejections, spawn failures, timeouts, and worker crashes, is a settled
// Result whose Error field carries the failure type. Callers branch on
// Result.Success.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/protocol"
	"github.com/okanya/scriptbox/internal/registry"
)

// Default limits applied when Options leaves them zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMemoryLimitMB  = 128
	DefaultMaxScriptBytes = 1 << 20
	DefaultKillGrace      = 5 * time.Second
)

// InstanceResolver looks up a configured database instance by name. The
// registry package provides the production implementation.
type InstanceResolver interface {
	Lookup(ctx context.Context, kind domain.DatabaseKind, name string) (*domain.Instance, error)
}

// Options tunes the engine. Zero values fall back to the defaults above.
type Options struct {
	Timeout        time.Duration // Wall-clock limit per execution.
	MemoryLimitMB  int           // Advisory heap ceiling handed to the worker.
	MaxScriptBytes int           // Scripts larger than this are rejected before spawn.
	KillGrace      time.Duration // Pause between SIGTERM and SIGKILL.
	TempRoot       string        // Parent of per-execution scratch dirs. "" = os.TempDir.
	WorkersDir     string        // Worker source artifacts.
	ProductionDir  string        // Bundled worker artifacts.
	Mode           RuntimeMode
	NodeBin        string
	PythonBin      string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MemoryLimitMB <= 0 {
		o.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if o.MaxScriptBytes <= 0 {
		o.MaxScriptBytes = DefaultMaxScriptBytes
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	return o
}

// Engine coordinates script executions end to end: validate, resolve the
// instance and the worker artifact, spawn the worker in a scratch
// directory, run the ready/execute handshake, and settle on the first of
// result, timeout, or process exit.
type Engine struct {
	opts      Options
	validator *Validator
	resolver  *WorkerResolver
	cleaner   *Cleaner
	launcher  launcher
	instances InstanceResolver
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New builds an engine. instances is required; metrics may be nil.
func New(instances InstanceResolver, opts Options, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	cleaner := NewCleaner(logger)
	return &Engine{
		opts:      opts,
		validator: NewValidator(),
		resolver:  NewWorkerResolver(opts.WorkersDir, opts.ProductionDir, opts.Mode, opts.NodeBin, opts.PythonBin),
		cleaner:   cleaner,
		launcher:  &procLauncher{cleaner: cleaner, logger: logger},
		instances: instances,
		metrics:   metrics,
		logger:    logger.With("component", "engine"),
	}
}

// WithTracer attaches an OTel tracer so each execution gets a span.
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	e.tracer = t
	return e
}

// Validate runs static validation only. Nothing is executed.
func (e *Engine) Validate(script string, lang domain.Language) ValidationResult {
	return e.validator.Validate(script, lang)
}

// Execute runs one script to completion and returns its settled result.
// The context bounds the whole execution; cancellation terminates a
// running worker the same way the deadline does.
func (e *Engine) Execute(ctx context.Context, req Request) *Result {
	started := time.Now()
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	meta := Metadata{
		DatabaseType: string(req.DatabaseKind),
		DatabaseName: req.DatabaseName,
		ExecutedAt:   started.UTC(),
	}

	logger := e.logger.With(
		slog.String("execution_id", req.ExecutionID),
		slog.String("language", string(req.Language)),
		slog.String("database", string(req.DatabaseKind)),
		slog.String("instance", req.InstanceName),
	)

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.execute",
			trace.WithAttributes(
				attribute.String("script.language", string(req.Language)),
				attribute.String("db.system", string(req.DatabaseKind)),
				attribute.String("db.instance", req.InstanceName),
			))
		defer span.End()
	}

	fail := func(errType, message string) *Result {
		return e.finish(ctx, logger, req, failureResult(errType, message), meta, started)
	}

	// Precondition gates. All of these reject before any process exists.
	if strings.TrimSpace(req.Script) == "" {
		e.countValidationFailure("empty")
		return fail(ErrTypeValidation, "Script is empty")
	}
	if len(req.Script) > e.opts.MaxScriptBytes {
		e.countValidationFailure("oversized")
		return fail(ErrTypeValidation,
			fmt.Sprintf("Script too large: %d bytes exceeds the %d byte limit", len(req.Script), e.opts.MaxScriptBytes))
	}
	if !req.Language.Valid() {
		e.countValidationFailure("language")
		return fail(ErrTypeValidation, fmt.Sprintf("Unsupported language: %q", string(req.Language)))
	}
	if !req.DatabaseKind.Valid() {
		e.countValidationFailure("database")
		return fail(ErrTypeValidation, fmt.Sprintf("Unsupported database type: %q", string(req.DatabaseKind)))
	}

	validation := e.validator.Validate(req.Script, req.Language)
	if !validation.Valid {
		errType := ErrTypeValidation
		kind := "blocked"
		if validation.syntaxError {
			errType = ErrTypeSyntax
			kind = "syntax"
		}
		e.countValidationFailure(kind)
		return fail(errType, strings.Join(validation.Errors, "; "))
	}
	if len(validation.Warnings) > 0 {
		logger.Warn("Script carries risk warnings", slog.Any("warnings", validation.Warnings))
	}

	inst, err := e.instances.Lookup(ctx, req.DatabaseKind, req.InstanceName)
	if err != nil {
		if errors.Is(err, registry.ErrInstanceNotFound) {
			return fail(ErrTypeInstanceConfig, fmt.Sprintf("Instance not found: %s", req.InstanceName))
		}
		return fail(ErrTypeInstanceConfig, fmt.Sprintf("Instance lookup failed: %v", err))
	}
	if !inst.Enabled {
		return fail(ErrTypeInstanceConfig, fmt.Sprintf("Instance %q is disabled", inst.Name))
	}
	switch req.DatabaseKind {
	case domain.DatabasePostgres:
		if inst.Host == "" {
			return fail(ErrTypeInstanceConfig, fmt.Sprintf("Instance %q configuration is missing host", inst.Name))
		}
	case domain.DatabaseMongo:
		if inst.URI == "" {
			return fail(ErrTypeInstanceConfig, fmt.Sprintf("Instance %q configuration is missing URI", inst.Name))
		}
	}
	meta.InstanceID = inst.ID.String()

	artifact, err := e.resolver.Resolve(req.Language, e.opts.MemoryLimitMB)
	if err != nil {
		return fail(ErrTypeWorkerNotFound, err.Error())
	}

	tempDir, err := os.MkdirTemp(e.opts.TempRoot, tempDirPattern)
	if err != nil {
		return fail(ErrTypeProcess, fmt.Sprintf("Failed to create scratch directory: %v", err))
	}

	w, err := e.launcher.launch(ctx, &launchSpec{
		artifact:    artifact,
		executionID: req.ExecutionID,
		tempDir:     tempDir,
		env:         workerEnv(tempDir, inst, e.opts.MemoryLimitMB),
		killGrace:   e.opts.KillGrace,
	})
	if err != nil {
		e.cleaner.Release(tempDir)
		return fail(ErrTypeProcess, fmt.Sprintf("Failed to start worker process: %v", err))
	}
	defer w.close()

	logger.Info("Executing script", slog.Duration("timeout", timeout), slog.String("artifact", artifact.Path))

	res := e.await(ctx, w, req, inst, timeout, logger)
	return e.finish(ctx, logger, req, res, meta, started)
}

// await drives one spawned worker to settlement. It resolves the race
// between worker messages, transport failures, process exit, the deadline,
// and context cancellation; the first settlement wins and everything
// arriving later is ignored.
func (e *Engine) await(ctx context.Context, w worker, req Request, inst *domain.Instance, timeout time.Duration, logger *slog.Logger) *Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	msgs := w.messages()
	transport := w.transportErrors()
	exit := w.exited()
	timerCh := timer.C
	ctxDone := ctx.Done()

	var (
		readySeen bool
		killType  string
		killMsg   string
	)

	// requestKill records why the engine is terminating the worker, then
	// starts the escalating kill. The loop keeps running until the exit
	// event arrives so the recorded reason settles the result.
	requestKill := func(errType, message string) {
		if killType != "" {
			return
		}
		killType, killMsg = errType, message
		if e.metrics != nil {
			e.metrics.WorkerKills.Inc()
		}
		w.kill()
	}

	for {
		select {
		case env, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			switch env.Type {
			case protocol.MsgReady:
				if readySeen {
					continue
				}
				readySeen = true
				logger.Debug("Worker ready")
				execEnv, err := protocol.NewEnvelope(protocol.MsgExecute, req.ExecutionID, &protocol.ExecutePayload{
					Script:  req.Script,
					Context: scriptContext(req, inst, timeout),
				})
				if err != nil {
					requestKill(ErrTypeProcess, fmt.Sprintf("Failed to encode execute message: %v", err))
					continue
				}
				if err := w.send(execEnv); err != nil {
					requestKill(ErrTypeProcess, fmt.Sprintf("Failed to deliver script to worker: %v", err))
				}
			case protocol.MsgResult:
				var payload protocol.ResultPayload
				if err := env.Decode(&payload); err != nil {
					requestKill(ErrTypeProcess, fmt.Sprintf("Malformed result from worker: %v", err))
					continue
				}
				return settledResult(&payload)
			default:
				logger.Debug("Ignoring unexpected worker message", slog.String("type", string(env.Type)))
			}

		case err, ok := <-transport:
			if !ok {
				transport = nil
				continue
			}
			requestKill(ErrTypeProcess, fmt.Sprintf("Worker channel failed: %v", err))

		case st := <-exit:
			return exitResult(w, st, killType, killMsg)

		case <-timerCh:
			timerCh = nil
			logger.Warn("Execution deadline exceeded, terminating worker", slog.Duration("timeout", timeout))
			requestKill(ErrTypeTimeout, fmt.Sprintf("Script execution timed out after %dms", timeout.Milliseconds()))

		case <-ctxDone:
			ctxDone = nil
			logger.Warn("Execution canceled, terminating worker", slog.Any("cause", ctx.Err()))
			requestKill(ErrTypeTimeout, fmt.Sprintf("Script execution canceled: %v", ctx.Err()))
		}
	}
}

// scriptContext builds the execution context sent to the worker. Secrets
// are referenced through CredentialsEnvPrefix, never inlined here.
func scriptContext(req Request, inst *domain.Instance, timeout time.Duration) protocol.ScriptContext {
	return protocol.ScriptContext{
		DatabaseType:         string(req.DatabaseKind),
		DatabaseName:         req.DatabaseName,
		InstanceID:           inst.ID.String(),
		Host:                 inst.Host,
		Port:                 inst.Port,
		User:                 inst.User,
		URI:                  inst.URI,
		CredentialsEnvPrefix: inst.CredentialsEnvPrefix,
		TimeoutMS:            timeout.Milliseconds(),
	}
}

// settledResult normalizes the worker's terminal payload. Failed results
// keep whatever output was collected before the failure; a failure without
// error detail falls back to a generic runtime error.
func settledResult(payload *protocol.ResultPayload) *Result {
	out := payload.Output
	if out == nil {
		out = protocol.EventList{}
	}
	res := &Result{
		Success:     payload.Success,
		ReturnValue: payload.ReturnValue,
		Output:      out,
	}
	if !payload.Success {
		info := payload.Error
		if info == nil {
			info = &protocol.ErrorInfo{}
		}
		if info.Type == "" {
			info.Type = ErrTypeRuntime
		}
		if info.Message == "" {
			info.Message = "Script execution failed"
		}
		res.Error = info
	}
	return res
}

// exitResult interprets a process exit that arrived before any Result.
// An exit following an engine-issued kill reports the recorded kill
// reason; everything else is a process error, with captured stderr as the
// detail channel.
func exitResult(w worker, st exitStatus, killType, killMsg string) *Result {
	if w.killedByEngine() && killType != "" {
		return failureResult(killType, killMsg)
	}
	tail := strings.TrimSpace(w.stderrTail())
	switch {
	case st.signaled:
		msg := fmt.Sprintf("Worker process terminated by signal %s", st.signal)
		if tail != "" {
			msg += ": " + tail
		}
		return failureResult(ErrTypeProcess, msg)
	case st.code == 0:
		return failureResult(ErrTypeProcess, "Process exited without result")
	default:
		msg := fmt.Sprintf("Worker process exited with code %d", st.code)
		if tail != "" {
			msg += ": " + tail
		}
		return failureResult(ErrTypeProcess, msg)
	}
}

// finish stamps duration, metadata, and the output summary onto a settled
// result, then records telemetry.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, req Request, res *Result, meta Metadata, started time.Time) *Result {
	elapsed := time.Since(started)
	res.Duration = Millis(elapsed)
	res.Metadata = meta
	res.Summary = Summarize(res.Output)

	status := "success"
	var errType, errMsg string
	if !res.Success {
		errType, errMsg = ErrTypeRuntime, "Script execution failed"
		if res.Error != nil {
			errType, errMsg = res.Error.Type, res.Error.Message
		}
		status = errType
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(string(req.Language), string(req.DatabaseKind), status).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(string(req.Language), string(req.DatabaseKind)).Observe(elapsed.Seconds())
		for _, ev := range res.Output {
			e.metrics.OutputEvents.WithLabelValues(string(ev.Kind())).Inc()
		}
	}

	if res.Success {
		logger.Info("Script execution completed",
			slog.Duration("duration", elapsed),
			slog.Int64("queries", res.Summary.TotalQueries),
			slog.Int64("operations", res.Summary.TotalOperations),
		)
	} else {
		if e.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetStatus(codes.Error, errMsg)
		}
		logger.Warn("Script execution failed",
			slog.String("error_type", errType),
			slog.String("error", errMsg),
			slog.Duration("duration", elapsed),
		)
	}
	return res
}

func (e *Engine) countValidationFailure(kind string) {
	if e.metrics != nil {
		e.metrics.ValidationFailures.WithLabelValues(kind).Inc()
	}
}
