package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbell/internal/config"
	"schoolbell/internal/domain/entity"
	"schoolbell/internal/infra/counterstore"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
	"schoolbell/internal/usecase/dispatch"
	"schoolbell/internal/usecase/health"
	"schoolbell/internal/usecase/ratelimit"
	"schoolbell/internal/usecase/render"
	"schoolbell/internal/usecase/retry"
)

type fakeReminderRepo struct {
	mu      sync.Mutex
	batches [][]*entity.ReminderTarget

	birthdaysCreated int64
	synthesizeCalls  int
}

func (f *fakeReminderRepo) ClaimDueBatch(_ context.Context, _ time.Time, _ int64, _ []entity.Category, _ int) ([]*entity.ReminderTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeReminderRepo) SynthesizeBirthdays(_ context.Context, _ int64, _ time.Time, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthesizeCalls++
	return f.birthdaysCreated, nil
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	nextID  int64
	created []*entity.Notification
	events  map[int64][]entity.TransitionRecord
	retries []*entity.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{events: map[int64][]entity.TransitionRecord{}}
}

func (f *fakeNotificationRepo) Create(_ context.Context, n *entity.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	n.ID = f.nextID
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationRepo) Update(_ context.Context, _ *entity.Notification) error { return nil }

func (f *fakeNotificationRepo) AppendEvents(_ context.Context, id int64, records []entity.TransitionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id] = append(f.events[id], records...)
	return nil
}

func (f *fakeNotificationRepo) Get(_ context.Context, id int64) (*entity.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.created {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeNotificationRepo) ListDueRetries(_ context.Context, _ time.Time, _ int) ([]*entity.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.retries
	f.retries = nil
	return due, nil
}

func (f *fakeNotificationRepo) Cancel(_ context.Context, _ int64, _ time.Time) error { return nil }

type fakeLockRepo struct {
	mu        sync.Mutex
	contended bool
	acquired  int
	released  int
}

func (f *fakeLockRepo) Acquire(_ context.Context, _ int64, _ string, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contended {
		return repository.ErrLockContention
	}
	f.acquired++
	return nil
}

func (f *fakeLockRepo) Release(_ context.Context, _ int64, _ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

type fakeTemplateRepo struct{}

func (fakeTemplateRepo) Find(_ context.Context, tenantID int64, code string, channel entity.Channel) (*entity.MessageTemplate, error) {
	return &entity.MessageTemplate{
		TenantID: tenantID,
		Code:     code,
		Channel:  channel,
		Subject:  "Reminder for {player_name}",
		Body:     "Hi {player_name}, see you at {time}.",
	}, nil
}

// scriptedTransport answers each send from its queue; an empty queue
// means success.
type scriptedTransport struct {
	channel entity.Channel

	mu    sync.Mutex
	errs  []error
	sends int
}

func (t *scriptedTransport) Channel() entity.Channel { return t.channel }

func (t *scriptedTransport) Send(_ context.Context, n *entity.Notification, _ *entity.RenderedMessage) (*dispatch.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends++
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &dispatch.SendResult{Provider: "stub", ProviderMessageID: "msg-1"}, nil
}

type testHarness struct {
	runner    *Runner
	reminders *fakeReminderRepo
	notifs    *fakeNotificationRepo
	locks     *fakeLockRepo
	transport *scriptedTransport
	clock     *clock.Fixed
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	clk := &clock.Fixed{Current: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	policy := config.DefaultPolicy()
	store := counterstore.NewMemoryStore(clk)

	reminders := &fakeReminderRepo{}
	notifs := newFakeNotificationRepo()
	locks := &fakeLockRepo{}
	transport := &scriptedTransport{channel: entity.ChannelMail}

	controller, err := retry.NewController(policy.Backoff)
	require.NoError(t, err)

	runner := NewRunner(
		reminders,
		notifs,
		locks,
		ratelimit.NewLimiter(store, policy.RateLimit, clk),
		render.NewRenderer(fakeTemplateRepo{}),
		dispatch.NewDispatcher([]dispatch.Transport{transport}, policy.SendTimeout.Std()),
		controller,
		health.NewAggregator(store, noopSink{}, policy.Health, time.UTC, clk),
		policy,
		time.UTC,
		clk,
		nil,
	)

	return &testHarness{
		runner:    runner,
		reminders: reminders,
		notifs:    notifs,
		locks:     locks,
		transport: transport,
		clock:     clk,
	}
}

type noopSink struct{}

func (noopSink) Alert(context.Context, health.AlertEvent) {}

func mailTarget(id, recipient int64, category entity.Category) *entity.ReminderTarget {
	trigger := time.Date(2025, 6, 1, 9, 55, 0, 0, time.UTC)
	return &entity.ReminderTarget{
		ID:           id,
		TenantID:     1,
		RecipientID:  recipient,
		Addresses:    entity.ChannelAddresses{Email: "ana@example.com"},
		Category:     category,
		TriggerTime:  trigger,
		TemplateCode: "training_reminder",
		Variables:    map[string]string{"player_name": "Ana", "time": "18:00"},
		Channels:     []entity.Channel{entity.ChannelMail},
		DedupeKey:    entity.BuildDedupeKey(1, recipient, category, trigger),
	}
}

func TestRunner_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryTraining)}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DueItems)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Failed)

	require.Len(t, h.notifs.created, 1)
	n := h.notifs.created[0]
	assert.Equal(t, entity.StatusSent, n.Status)
	assert.Equal(t, "stub", n.Provider)
	assert.Equal(t, "msg-1", n.ProviderMessageID)
	assert.NotNil(t, n.SentAt)
	assert.NotEmpty(t, h.notifs.events[n.ID])

	assert.Equal(t, 1, h.locks.acquired)
	assert.Equal(t, 1, h.locks.released)
}

func TestRunner_LockContentionExitsEarly(t *testing.T) {
	h := newHarness(t)
	h.locks.contended = true
	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryTraining)}}

	_, err := h.runner.Run(context.Background(), 1, JobGeneral)
	assert.ErrorIs(t, err, repository.ErrLockContention)
	assert.Empty(t, h.notifs.created, "no items processed without the lock")
}

func TestRunner_TransientFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.transport.errs = []error{&dispatch.ProviderError{Provider: "stub", StatusCode: 503, Message: "unavailable"}}
	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryTraining)}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	n := h.notifs.created[0]
	assert.Equal(t, entity.StatusFailed, n.Status)
	assert.False(t, n.RetryExhausted)
	require.NotNil(t, n.NextRetryAt)
	// First retry follows the first backoff schedule entry.
	assert.Equal(t, h.clock.Now().Add(60*time.Second), *n.NextRetryAt)
}

func TestRunner_PermanentFailureExhaustsImmediately(t *testing.T) {
	h := newHarness(t)
	h.transport.errs = []error{&dispatch.ProviderError{Provider: "stub", StatusCode: 400, Message: "bad address"}}
	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryTraining)}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	n := h.notifs.created[0]
	assert.Equal(t, entity.StatusFailed, n.Status)
	assert.True(t, n.RetryExhausted)
	assert.Nil(t, n.NextRetryAt)
	assert.True(t, n.IsTerminal())
}

func TestRunner_RateLimitedSendIsDeferred(t *testing.T) {
	h := newHarness(t)

	// Fill the recipient's hourly window before the run.
	limiter := ratelimit.NewLimiter(counterstore.NewMemoryStore(h.clock), config.RateLimitCaps{
		RecipientHourly: 1,
		RecipientDaily:  100,
	}, h.clock)
	h.runner.limiter = limiter
	require.NoError(t, limiter.Increment(context.Background(), 1, 42))

	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryTraining)}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Zero(t, stats.Sent)
	assert.Zero(t, stats.Failed)

	n := h.notifs.created[0]
	assert.Equal(t, entity.StatusPending, n.Status, "deferred sends stay pending")
	require.NotNil(t, n.NextRetryAt)
	assert.Zero(t, h.transport.sends, "no attempt was made")
}

func TestRunner_RetrySweepReenqueuesFailed(t *testing.T) {
	h := newHarness(t)

	target := mailTarget(1, 42, entity.CategoryTraining)
	n := entity.NewNotification(target, entity.ChannelMail, "ana@example.com", target.TriggerTime)
	n.ID = 99
	now := h.clock.Now().Add(-5 * time.Minute)
	require.NoError(t, n.Transition(entity.EventEnqueued, now, nil))
	require.NoError(t, n.Transition(entity.EventSendStarted, now, nil))
	require.NoError(t, n.Transition(entity.EventSendFailed, now, nil))
	require.NoError(t, n.ScheduleRetry(now.Add(time.Minute)))
	h.notifs.retries = []*entity.Notification{n}

	stats, err := h.runner.Run(context.Background(), 1, JobRetries)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DueItems)
	assert.Equal(t, 1, stats.Sent)

	assert.Equal(t, entity.StatusSent, n.Status)
	assert.Equal(t, 1, n.RetryCount, "re-enqueue counts the retry")
	assert.Nil(t, n.NextRetryAt)
}

func TestRunner_RetrySweepSkipsCancelled(t *testing.T) {
	h := newHarness(t)

	target := mailTarget(1, 42, entity.CategoryTraining)
	n := entity.NewNotification(target, entity.ChannelMail, "ana@example.com", target.TriggerTime)
	require.NoError(t, n.Transition(entity.EventCancelled, h.clock.Now(), nil))
	h.notifs.retries = []*entity.Notification{n}

	stats, err := h.runner.Run(context.Background(), 1, JobRetries)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.DueItems)
	assert.Zero(t, h.transport.sends)
	assert.Equal(t, entity.StatusCancelled, n.Status)
}

func TestRunner_BirthdayRunSynthesizesFirst(t *testing.T) {
	h := newHarness(t)
	h.reminders.birthdaysCreated = 3
	h.reminders.batches = [][]*entity.ReminderTarget{{mailTarget(1, 42, entity.CategoryBirthday)}}

	stats, err := h.runner.Run(context.Background(), 1, JobBirthdays)
	require.NoError(t, err)

	assert.Equal(t, 1, h.reminders.synthesizeCalls)
	assert.Equal(t, int64(3), stats.BirthdaysSynthesized)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.BirthdaySent)
}

func TestRunner_ItemFailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.transport.errs = []error{
		&dispatch.ProviderError{Provider: "stub", StatusCode: 500, Message: "boom"},
		nil,
	}
	h.reminders.batches = [][]*entity.ReminderTarget{{
		mailTarget(1, 42, entity.CategoryTraining),
		mailTarget(2, 43, entity.CategoryTraining),
	}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DueItems)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
}

func TestRunner_UnreachableChannelIsSkipped(t *testing.T) {
	h := newHarness(t)
	target := mailTarget(1, 42, entity.CategoryTraining)
	target.Addresses = entity.ChannelAddresses{} // no email
	h.reminders.batches = [][]*entity.ReminderTarget{{target}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, h.notifs.created)
}

func TestRunner_InvalidTargetIsSkipped(t *testing.T) {
	h := newHarness(t)
	target := mailTarget(1, 42, entity.CategoryTraining)
	target.TemplateCode = ""
	h.reminders.batches = [][]*entity.ReminderTarget{{target}}

	stats, err := h.runner.Run(context.Background(), 1, JobGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, h.notifs.created)
}

func TestParseJobType(t *testing.T) {
	for _, valid := range []string{"urgent", "general", "birthdays", "retries"} {
		jt, err := ParseJobType(valid)
		require.NoError(t, err)
		assert.Equal(t, JobType(valid), jt)
	}
	_, err := ParseJobType("hourly-sync")
	assert.Error(t, err)
}

func TestJobTypeCategoriesAreDisjoint(t *testing.T) {
	seen := map[entity.Category]JobType{}
	for _, jt := range []JobType{JobUrgent, JobGeneral, JobBirthdays} {
		for _, c := range jt.Categories() {
			if prev, dup := seen[c]; dup {
				t.Fatalf("category %s claimed by both %s and %s", c, prev, jt)
			}
			seen[c] = jt
		}
	}
	// Every category belongs to exactly one cadence.
	for _, c := range []entity.Category{
		entity.CategoryTraining, entity.CategoryMatch, entity.CategoryTournament,
		entity.CategoryPayment, entity.CategoryBirthday, entity.CategoryGeneral,
	} {
		if _, ok := seen[c]; !ok {
			t.Fatalf("category %s claimed by no cadence", c)
		}
	}
	assert.Nil(t, JobRetries.Categories())
}
