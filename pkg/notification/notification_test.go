package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

type stubSender struct {
	err error
}

func (s stubSender) Send(_ context.Context, _ string, _ string) error {
	return s.err
}

func TestDeliverCountsSuccessesAcrossChannelsAndRecipients(t *testing.T) {
	sink := NewSink(map[string]ChannelSender{
		"slack": stubSender{},
		"email": stubSender{},
	})

	count, err := sink.Deliver(context.Background(), []string{"slack", "email"}, []string{"alice", "bob"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestDeliverFallsBackToLogSenderForUnregisteredChannel(t *testing.T) {
	sink := NewSink(nil)

	count, err := sink.Deliver(context.Background(), []string{"pagerduty"}, []string{"oncall"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliverPartialFailureStillCountsSuccesses(t *testing.T) {
	sink := NewSink(map[string]ChannelSender{
		"slack": stubSender{err: errors.New("rate limited")},
		"email": stubSender{},
	})

	count, err := sink.Deliver(context.Background(), []string{"slack", "email"}, []string{"alice"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliverReturnsInternalErrorWhenEverySendFails(t *testing.T) {
	sink := NewSink(map[string]ChannelSender{
		"slack": stubSender{err: errors.New("down")},
	})

	count, err := sink.Deliver(context.Background(), []string{"slack"}, []string{"alice"}, "hello")
	require.Error(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, errs.InternalError, errs.KindOf(err))
}

func TestDeliverRejectsEmptyChannelsOrRecipients(t *testing.T) {
	sink := NewSink(nil)

	_, err := sink.Deliver(context.Background(), nil, []string{"alice"}, "hello")
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	_, err = sink.Deliver(context.Background(), []string{"slack"}, nil, "hello")
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestNotifyApprovalRequestedDeliversToAllApprovers(t *testing.T) {
	sink := NewSink(map[string]ChannelSender{"email": stubSender{}})
	notifier := NewApprovalNotifier(sink, "")

	approval := &models.Approval{
		StepID:    "approve-1",
		Approvers: []string{"alice", "bob"},
	}
	err := notifier.NotifyApprovalRequested(context.Background(), approval, "please review")
	require.NoError(t, err)
}

func TestNotifyApprovalRequestedNoApproversIsNoop(t *testing.T) {
	sink := NewSink(nil)
	notifier := NewApprovalNotifier(sink, "email")

	err := notifier.NotifyApprovalRequested(context.Background(), &models.Approval{StepID: "approve-1"}, "please review")
	require.NoError(t, err)
}
