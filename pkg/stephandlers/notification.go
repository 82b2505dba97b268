package stephandlers

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// NotificationSender is the subset of pkg/notification.NotificationSink
// the notification handler needs.
type NotificationSender interface {
	Deliver(ctx context.Context, channels, recipients []string, message string) (deliveredCount int, err error)
}

// NotificationHandler renders and delivers a notification step.
type NotificationHandler struct {
	eval   *expression.Evaluator
	sender NotificationSender
}

// NewNotificationHandler returns a handler rendering templates with eval
// and delivering through sender.
func NewNotificationHandler(eval *expression.Evaluator, sender NotificationSender) *NotificationHandler {
	return &NotificationHandler{eval: eval, sender: sender}
}

func (h *NotificationHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	cfg := step.Notification
	if cfg == nil {
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "notification step missing config")
	}

	message, err := h.eval.Substitute(cfg.MessageTemplate, ectx)
	if err != nil {
		return models.DispatchOutcome{}, err
	}

	recipients := make([]string, len(cfg.Recipients))
	for i, r := range cfg.Recipients {
		rendered, err := h.eval.Substitute(r, ectx)
		if err != nil {
			return models.DispatchOutcome{}, err
		}
		recipients[i] = rendered
	}

	delivered, err := h.sender.Deliver(ctx, cfg.Channels, recipients, message)
	if err != nil {
		if kerr, ok := err.(*errs.Error); ok {
			return models.Failed(string(kerr.Kind), kerr.Message), nil
		}
		return models.Failed(string(errs.InternalError), err.Error()), nil
	}
	return models.Completed(models.NotificationOutput{DeliveredCount: delivered}, 0), nil
}

// Poll is a no-op for notification: delivery is synchronous from the
// coordinator's point of view.
func (h *NotificationHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	return models.DispatchOutcome{}, errs.New(errs.InternalError, "notification steps do not suspend")
}
