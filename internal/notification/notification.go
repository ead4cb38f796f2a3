// Package notification announces script request outcomes for Scriptbox.
// It delivers messages through configured channels (Slack, webhook) after
// an execution settles.
//
// Security: messages carry request metadata and result summaries only.
// Credential material never appears in a notification payload.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/domain"
)

// Sender is the interface for a single notification channel backend.
type Sender interface {
	// Type returns the channel type identifier ("slack", "webhook").
	Type() string
	// Send delivers a rendered message.
	Send(ctx context.Context, msg *Message) error
}

// Message is the payload to be sent through a notification channel.
type Message struct {
	Subject  string            // Headline, rendered bold by chat channels.
	Body     string            // Plain text body.
	Metadata map[string]string // Extra data (request_id, instance, status, etc.).
}

// Outcome describes a settled script request for notification purposes.
type Outcome struct {
	RequestID    uuid.UUID
	Title        string
	InstanceName string
	DatabaseName string
	DatabaseKind domain.DatabaseKind
	Language     domain.Language
	Status       domain.RequestStatus // StatusExecuted or StatusFailed
	Summary      string               // One-line result summary from the engine.
	RequestedBy  string
	ReviewedBy   string
	Duration     time.Duration
}

// Dispatcher fans an outcome out to every registered Sender.
// Nil-safe: a nil Dispatcher drops notifications silently.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates a notification dispatcher with no senders registered.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// RegisterSender adds a channel backend. Not thread-safe — call at startup only.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.senders = append(d.senders, s)
}

// Notify delivers a message through every registered sender.
// Returns per-sender errors keyed by sender type (nil = success).
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) map[string]error {
	if d == nil || len(d.senders) == 0 {
		return nil
	}

	errs := make(map[string]error, len(d.senders))

	for _, s := range d.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs[s.Type()] = err
			d.logger.WarnContext(ctx, "notification send failed",
				slog.String("sender", s.Type()),
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
		} else {
			errs[s.Type()] = nil
			d.logger.InfoContext(ctx, "notification sent",
				slog.String("sender", s.Type()),
				slog.String("subject", msg.Subject),
			)
		}
	}

	return errs
}

// NotifyOutcome renders the outcome and delivers it through every sender.
func (d *Dispatcher) NotifyOutcome(ctx context.Context, out *Outcome) map[string]error {
	if d == nil || len(d.senders) == 0 {
		return nil
	}
	return d.Notify(ctx, renderOutcome(out))
}

// renderOutcome builds the channel-independent message for an outcome.
func renderOutcome(out *Outcome) *Message {
	var verb string
	switch out.Status {
	case domain.StatusApproved:
		verb = "approved"
	case domain.StatusRejected:
		verb = "rejected"
	case domain.StatusFailed:
		verb = "failed"
	default:
		verb = "executed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", out.RequestID)
	fmt.Fprintf(&b, "Instance: %s (%s)\n", out.InstanceName, out.DatabaseKind)
	if out.DatabaseName != "" {
		fmt.Fprintf(&b, "Database: %s\n", out.DatabaseName)
	}
	fmt.Fprintf(&b, "Language: %s\n", out.Language)
	fmt.Fprintf(&b, "Requested by: %s", out.RequestedBy)
	if out.ReviewedBy != "" {
		fmt.Fprintf(&b, ", approved by: %s", out.ReviewedBy)
	}
	b.WriteString("\n")
	if out.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", out.Duration.Round(time.Millisecond))
	}
	if out.Summary != "" {
		fmt.Fprintf(&b, "Result: %s", out.Summary)
	}

	return &Message{
		Subject: fmt.Sprintf("Script %s: %s", verb, out.Title),
		Body:    b.String(),
		Metadata: map[string]string{
			"request_id": out.RequestID.String(),
			"instance":   out.InstanceName,
			"status":     out.Status.String(),
			"language":   string(out.Language),
			"database":   string(out.DatabaseKind),
		},
	}
}
