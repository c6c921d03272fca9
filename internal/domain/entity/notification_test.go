package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotification() *Notification {
	target := &ReminderTarget{
		ID:           7,
		TenantID:     1,
		RecipientID:  42,
		Category:     CategoryTraining,
		TemplateCode: "training_reminder",
		Channels:     []Channel{ChannelMail},
		DedupeKey:    "1:42:training:1700000000",
	}
	return NewNotification(target, ChannelMail, "ana@example.com", time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC))
}

func TestNotification_HappyPathTransitions(t *testing.T) {
	n := newTestNotification()
	now := time.Date(2025, 6, 1, 18, 0, 1, 0, time.UTC)

	steps := []EventType{EventEnqueued, EventSendStarted, EventSent, EventDeliveryConfirmed, EventReadConfirmed}
	for _, ev := range steps {
		now = now.Add(time.Second)
		require.NoError(t, n.Transition(ev, now, nil))
	}

	assert.Equal(t, StatusRead, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.NotNil(t, n.DeliveredAt)
	assert.NotNil(t, n.ReadAt)
	assert.Nil(t, n.FailedAt)
	assert.True(t, n.IsTerminal())
	assert.Len(t, n.Log, len(steps))
	assert.Equal(t, StatusPending, n.Log[0].From)
	assert.Equal(t, StatusRead, n.Log[len(n.Log)-1].To)
}

func TestNotification_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []EventType
		event EventType
	}{
		{"pending cannot send", nil, EventSendStarted},
		{"pending cannot succeed", nil, EventSent},
		{"queued cannot deliver", []EventType{EventEnqueued}, EventDeliveryConfirmed},
		{"sent cannot send again", []EventType{EventEnqueued, EventSendStarted, EventSent}, EventSendStarted},
		{"delivered cannot go back to sending", []EventType{EventEnqueued, EventSendStarted, EventSent, EventDeliveryConfirmed}, EventSendStarted},
		{"delivered cannot revisit pending via enqueue", []EventType{EventEnqueued, EventSendStarted, EventSent, EventDeliveryConfirmed}, EventEnqueued},
		{"read is terminal", []EventType{EventEnqueued, EventSendStarted, EventSent, EventDeliveryConfirmed, EventReadConfirmed}, EventCancelled},
		{"cancelled is terminal", []EventType{EventCancelled}, EventEnqueued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNotification()
			now := time.Now()
			for _, ev := range tt.setup {
				require.NoError(t, n.Transition(ev, now, nil))
			}
			before := n.Status
			err := n.Transition(tt.event, now, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before, n.Status, "failed transition must not change status")
		})
	}
}

func TestNotification_FailedRetryCycle(t *testing.T) {
	n := newTestNotification()
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	require.NoError(t, n.Transition(EventEnqueued, now, nil))
	require.NoError(t, n.Transition(EventSendStarted, now, nil))
	require.NoError(t, n.Transition(EventSendFailed, now, map[string]string{"error": "timeout"}))

	assert.Equal(t, StatusFailed, n.Status)
	assert.NotNil(t, n.FailedAt)
	assert.False(t, n.IsTerminal(), "retryable failure is not terminal")

	retryAt := now.Add(60 * time.Second)
	require.NoError(t, n.ScheduleRetry(retryAt))
	require.NotNil(t, n.NextRetryAt)
	assert.Equal(t, retryAt, *n.NextRetryAt)

	// Re-enqueue consumes the schedule and counts the retry.
	require.NoError(t, n.Transition(EventEnqueued, retryAt, nil))
	assert.Equal(t, StatusQueued, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Nil(t, n.NextRetryAt)
}

func TestNotification_ExhaustRetries(t *testing.T) {
	n := newTestNotification()
	now := time.Now()

	require.NoError(t, n.Transition(EventEnqueued, now, nil))
	require.NoError(t, n.Transition(EventSendStarted, now, nil))
	require.NoError(t, n.Transition(EventSendFailed, now, nil))

	require.NoError(t, n.ExhaustRetries(now, "max attempts reached"))
	assert.True(t, n.RetryExhausted)
	assert.True(t, n.IsTerminal())
	assert.Nil(t, n.NextRetryAt)

	// Permanently failed notifications accept no further schedule.
	err := n.ScheduleRetry(now.Add(time.Minute))
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// The exhaustion itself is auditable.
	last := n.Log[len(n.Log)-1]
	assert.Equal(t, EventRetriesExhausted, last.Event)
	assert.Equal(t, "max attempts reached", last.Data["reason"])
}

func TestNotification_ExhaustRetriesRequiresFailedState(t *testing.T) {
	n := newTestNotification()
	err := n.ExhaustRetries(time.Now(), "nope")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestNotification_CancelFromNonTerminalStates(t *testing.T) {
	for _, setup := range [][]EventType{
		nil, // pending
		{EventEnqueued},
		{EventEnqueued, EventSendStarted},
		{EventEnqueued, EventSendStarted, EventSendFailed},
	} {
		n := newTestNotification()
		now := time.Now()
		for _, ev := range setup {
			require.NoError(t, n.Transition(ev, now, nil))
		}
		require.NoError(t, n.Transition(EventCancelled, now, nil))
		assert.Equal(t, StatusCancelled, n.Status)
		assert.True(t, n.IsTerminal())
	}
}
