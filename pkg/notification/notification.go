// Package notification implements Trinity's NotificationSink
// (SPEC_FULL.md §6.1): `Deliver(channels, recipients, rendered_message) ->
// {delivered_count, error?}`. Concrete delivery to a real channel
// (Slack, email) is out of scope (§1: "Email/Slack notification delivery
// internals"); this package provides the dispatch/fan-out shape the
// teacher used for its own Slack integration (pkg/slack/service.go:
// render once, post per target, count successes) generalized across an
// arbitrary set of pluggable channel senders, with a log-based default
// for any channel with no registered sender.
package notification

import (
	"context"
	"log/slog"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// ChannelSender delivers one rendered message to one recipient on a named
// channel (e.g. "slack", "email", "pagerduty"). Real implementations live
// outside this module; production wiring registers them by name.
type ChannelSender interface {
	Send(ctx context.Context, recipient, message string) error
}

// LogSender is the default ChannelSender for any channel without a
// registered implementation: it records the notification via structured
// logging rather than silently dropping it.
type LogSender struct {
	Channel string
}

// Send logs the notification and always succeeds.
func (s LogSender) Send(_ context.Context, recipient, message string) error {
	slog.Info("notification delivered via log sender (no channel sender registered)",
		"channel", s.Channel, "recipient", recipient)
	return nil
}

// Sink is Trinity's NotificationSink, satisfying
// pkg/stephandlers.NotificationSender.
type Sink struct {
	senders map[string]ChannelSender
}

// NewSink returns a Sink dispatching through the given per-channel
// senders. A channel absent from senders falls back to LogSender.
func NewSink(senders map[string]ChannelSender) *Sink {
	return &Sink{senders: senders}
}

// Deliver sends message to every recipient on every channel, returning
// the count of sends that succeeded. A channel/recipient failure is
// logged and counted but does not abort delivery to the rest; Deliver
// only returns an error if every attempted send failed, so the step can
// be classified as InternalError and retried per policy (§4.3.5).
func (s *Sink) Deliver(ctx context.Context, channels, recipients []string, message string) (int, error) {
	if len(channels) == 0 || len(recipients) == 0 {
		return 0, errs.New(errs.Validation, "notification requires at least one channel and one recipient")
	}

	delivered := 0
	attempted := 0
	for _, channel := range channels {
		sender := s.senderFor(channel)
		for _, recipient := range recipients {
			attempted++
			if err := sender.Send(ctx, recipient, message); err != nil {
				slog.Warn("notification delivery failed", "channel", channel, "recipient", recipient, "error", err)
				continue
			}
			delivered++
		}
	}
	if delivered == 0 && attempted > 0 {
		return 0, errs.New(errs.InternalError, "notification delivery failed on every channel/recipient")
	}
	return delivered, nil
}

func (s *Sink) senderFor(channel string) ChannelSender {
	if sender, ok := s.senders[channel]; ok {
		return sender
	}
	return LogSender{Channel: channel}
}

// ApprovalNotifier notifies approvers that a human_approval step is
// waiting on them, satisfying pkg/stephandlers.ApprovalRequestedNotifier.
// It is a thin wrapper over Sink, delivering on a single channel chosen
// at construction ("email" by default).
type ApprovalNotifier struct {
	sink    *Sink
	channel string
}

// NewApprovalNotifier returns a notifier delivering through sink on the
// given channel (defaulting to "email" when empty).
func NewApprovalNotifier(sink *Sink, channel string) *ApprovalNotifier {
	if channel == "" {
		channel = "email"
	}
	return &ApprovalNotifier{sink: sink, channel: channel}
}

// NotifyApprovalRequested renders a compact approval-requested message
// and delivers it to every approver.
func (n *ApprovalNotifier) NotifyApprovalRequested(ctx context.Context, approval *models.Approval, title string) error {
	if len(approval.Approvers) == 0 {
		return nil
	}
	message := title
	if message == "" {
		message = "approval requested for step " + approval.StepID
	}
	_, err := n.sink.Deliver(ctx, []string{n.channel}, approval.Approvers, message)
	return err
}
