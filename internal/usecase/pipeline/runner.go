// Package pipeline orchestrates one processing run: claim due reminder
// targets, gate them through the rate limiter, render and dispatch each
// channel, drive the delivery state machine, and hand failures to the
// retry controller. Runs of the same (tenant, job type) are mutually
// exclusive via a leased run lock; within a run, items fan out across
// bounded per-priority-class worker pools.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"schoolbell/internal/config"
	"schoolbell/internal/domain/entity"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
	"schoolbell/internal/usecase/dispatch"
	"schoolbell/internal/usecase/health"
	"schoolbell/internal/usecase/ratelimit"
	"schoolbell/internal/usecase/render"
	"schoolbell/internal/usecase/retry"
)

// Runner executes processing runs. All collaborators are injected; the
// runner owns no state beyond its configuration.
type Runner struct {
	reminders     repository.ReminderRepository
	notifications repository.NotificationRepository
	locks         repository.RunLockRepository

	limiter    *ratelimit.Limiter
	renderer   *render.Renderer
	dispatcher *dispatch.Dispatcher
	retries    *retry.Controller
	health     *health.Aggregator

	policy   config.Policy
	location *time.Location
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRunner wires a Runner. A nil location defaults to UTC, a nil clock
// to the system clock and a nil logger to slog.Default.
func NewRunner(
	reminders repository.ReminderRepository,
	notifications repository.NotificationRepository,
	locks repository.RunLockRepository,
	limiter *ratelimit.Limiter,
	renderer *render.Renderer,
	dispatcher *dispatch.Dispatcher,
	retries *retry.Controller,
	healthAgg *health.Aggregator,
	policy config.Policy,
	loc *time.Location,
	clk clock.Clock,
	logger *slog.Logger,
) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		reminders:     reminders,
		notifications: notifications,
		locks:         locks,
		limiter:       limiter,
		renderer:      renderer,
		dispatcher:    dispatcher,
		retries:       retries,
		health:        healthAgg,
		policy:        policy,
		location:      loc,
		clock:         clk,
		logger:        logger,
	}
}

// Run executes one processing run for (tenantID, jobType). tenantID 0
// processes all tenants. Returns repository.ErrLockContention when
// another worker holds the run lock; overlapping triggers of the same
// cadence are expected and the caller exits without error.
func (r *Runner) Run(ctx context.Context, tenantID int64, jobType JobType) (*RunStats, error) {
	owner := uuid.NewString()
	lease := r.policy.LockLease.Std()

	if err := r.locks.Acquire(ctx, tenantID, string(jobType), owner, lease); err != nil {
		if errors.Is(err, repository.ErrLockContention) {
			RecordLockContention(jobType)
			r.logger.InfoContext(ctx, "run lock held, skipping",
				slog.Int64("tenant_id", tenantID),
				slog.String("job_type", string(jobType)))
			return nil, err
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := r.locks.Release(releaseCtx, tenantID, string(jobType), owner); err != nil {
			r.logger.WarnContext(ctx, "release run lock",
				slog.String("job_type", string(jobType)),
				slog.Any("error", err))
		}
	}()

	start := r.clock.Now()
	collector := &statsCollector{stats: RunStats{JobType: jobType, TenantID: tenantID}}

	var runErr error
	switch jobType {
	case JobRetries:
		runErr = r.runRetries(ctx, collector)
	case JobBirthdays:
		runErr = r.runBirthdays(ctx, tenantID, collector)
	default:
		runErr = r.runDue(ctx, tenantID, jobType, collector)
	}

	stats := collector.snapshot()
	r.recordOutcome(ctx, jobType, stats, runErr, r.clock.Now().Sub(start))

	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

func (r *Runner) recordOutcome(ctx context.Context, jobType JobType, stats *RunStats, runErr error, elapsed time.Duration) {
	result := "success"
	if runErr != nil {
		result = "failure"
	}
	RecordRun(jobType, result, elapsed)
	RecordItems(jobType, "sent", stats.Sent)
	RecordItems(jobType, "failed", stats.Failed)
	RecordItems(jobType, "deferred", stats.Deferred)
	RecordItems(jobType, "skipped", stats.Skipped)

	if err := r.health.Record(ctx, health.RunResult{
		TenantID:     stats.TenantID,
		JobType:      string(jobType),
		DueItems:     stats.DueItems,
		Sent:         stats.Sent,
		Failed:       stats.Failed,
		BirthdaySent: stats.BirthdaySent,
		Err:          runErr,
	}); err != nil {
		r.logger.WarnContext(ctx, "record health", slog.Any("error", err))
	}

	r.logger.InfoContext(ctx, "processing run finished",
		slog.String("job_type", string(jobType)),
		slog.Int64("tenant_id", stats.TenantID),
		slog.Int("due_items", stats.DueItems),
		slog.Int("sent", stats.Sent),
		slog.Int("failed", stats.Failed),
		slog.Int("deferred", stats.Deferred),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", elapsed))
}

// runDue drains the due-item sequence for the job's categories. Claims
// are batched; each claimed batch fans out across the per-class pools
// before the next batch is fetched, so the sequence stays lazy and
// finite.
func (r *Runner) runDue(ctx context.Context, tenantID int64, jobType JobType, collector *statsCollector) error {
	categories := jobType.Categories()
	for {
		batch, err := r.reminders.ClaimDueBatch(ctx, r.clock.Now(), tenantID, categories, r.policy.BatchSize)
		if err != nil {
			return fmt.Errorf("claim due batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		collector.add(func(s *RunStats) { s.DueItems += len(batch) })

		byClass := make(map[entity.PriorityClass][]*entity.ReminderTarget)
		for _, target := range batch {
			class := target.Category.PriorityClass()
			byClass[class] = append(byClass[class], target)
		}
		if err := r.fanOutTargets(ctx, jobType, byClass, collector); err != nil {
			return err
		}

		if len(batch) < r.policy.BatchSize {
			return nil
		}
	}
}

// fanOutTargets processes each priority class in its own bounded pool.
// Workers never cross classes. Item failures are isolated; only context
// cancellation aborts the fan-out.
func (r *Runner) fanOutTargets(ctx context.Context, jobType JobType, byClass map[entity.PriorityClass][]*entity.ReminderTarget, collector *statsCollector) error {
	g, ctx := errgroup.WithContext(ctx)
	for class, targets := range byClass {
		pool, poolCtx := errgroup.WithContext(ctx)
		pool.SetLimit(r.policy.Workers.ForClass(class))
		targets := targets
		g.Go(func() error {
			for _, target := range targets {
				target := target
				pool.Go(func() error {
					if err := poolCtx.Err(); err != nil {
						return err
					}
					r.processTarget(poolCtx, jobType, target, collector)
					return nil
				})
			}
			return pool.Wait()
		})
	}
	return g.Wait()
}

// processTarget creates and delivers one notification per enabled
// channel of a claimed target.
func (r *Runner) processTarget(ctx context.Context, jobType JobType, target *entity.ReminderTarget, collector *statsCollector) {
	if err := target.Validate(); err != nil {
		r.logger.WarnContext(ctx, "skipping invalid reminder target",
			slog.Int64("target_id", target.ID),
			slog.Any("error", err))
		collector.add(func(s *RunStats) { s.Skipped++ })
		return
	}

	for _, ch := range target.Channels {
		address, reachable := target.Addresses.For(ch)
		if !reachable {
			r.logger.WarnContext(ctx, "recipient unreachable on channel",
				slog.Int64("target_id", target.ID),
				slog.Int64("recipient_id", target.RecipientID),
				slog.String("channel", string(ch)))
			collector.add(func(s *RunStats) { s.Skipped++ })
			continue
		}

		n := entity.NewNotification(target, ch, address, target.TriggerTime)
		if err := r.notifications.Create(ctx, n); err != nil {
			r.logger.ErrorContext(ctx, "create notification",
				slog.Int64("target_id", target.ID),
				slog.String("channel", string(ch)),
				slog.Any("error", err))
			collector.add(func(s *RunStats) { s.Failed++ })
			continue
		}
		r.deliver(ctx, n, collector)
	}
}

// deliver performs one attempt for a notification: rate gate, enqueue,
// render, dispatch, and state-machine bookkeeping. It is shared between
// the first attempt and retry re-attempts; the notification's current
// status (pending or failed) determines what the enqueue transition
// means.
func (r *Runner) deliver(ctx context.Context, n *entity.Notification, collector *statsCollector) {
	now := r.clock.Now()
	logStart := len(n.Log)

	decision, err := r.limiter.Allow(ctx, n.TenantID, n.RecipientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "rate limit check", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		collector.add(func(s *RunStats) { s.Failed++ })
		return
	}
	if !decision.Allowed {
		// Deferral does not consume a retry; the sweep picks the
		// notification up again once the window resets.
		if err := n.ScheduleRetry(decision.ResetAt); err != nil {
			r.logger.ErrorContext(ctx, "defer rate-limited send", slog.Int64("notification_id", n.ID), slog.Any("error", err))
			collector.add(func(s *RunStats) { s.Failed++ })
			return
		}
		r.persist(ctx, n, logStart)
		r.logger.InfoContext(ctx, "send deferred by rate limit",
			slog.Int64("notification_id", n.ID),
			slog.String("scope", decision.Scope),
			slog.String("window", string(decision.Window)),
			slog.Time("retry_at", decision.ResetAt))
		collector.add(func(s *RunStats) { s.Deferred++ })
		return
	}

	if err := n.Transition(entity.EventEnqueued, now, nil); err != nil {
		r.logger.ErrorContext(ctx, "enqueue notification", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		collector.add(func(s *RunStats) { s.Skipped++ })
		return
	}
	if err := n.Transition(entity.EventSendStarted, now, nil); err != nil {
		r.logger.ErrorContext(ctx, "start send", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		r.persist(ctx, n, logStart)
		collector.add(func(s *RunStats) { s.Skipped++ })
		return
	}

	msg, renderErr := r.renderer.Render(ctx, n.TenantID, n.TemplateCode, n.Channel, n.Variables)
	if renderErr != nil {
		// Render failures never heal on retry: the template or its
		// variables are wrong.
		r.failPermanently(ctx, n, logStart, "render: "+renderErr.Error(), collector)
		return
	}

	result, failure := r.dispatcher.Send(ctx, n, msg)
	if err := r.limiter.Increment(ctx, n.TenantID, n.RecipientID); err != nil {
		r.logger.WarnContext(ctx, "rate limit increment", slog.Int64("notification_id", n.ID), slog.Any("error", err))
	}

	now = r.clock.Now()
	if failure == nil {
		n.Provider = result.Provider
		n.ProviderMessageID = result.ProviderMessageID
		if err := n.Transition(entity.EventSent, now, map[string]string{"provider": result.Provider}); err != nil {
			r.logger.ErrorContext(ctx, "mark sent", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		}
		r.persist(ctx, n, logStart)
		collector.add(func(s *RunStats) {
			s.Sent++
			if n.Category == entity.CategoryBirthday {
				s.BirthdaySent++
			}
		})
		return
	}

	n.ErrorMessage = failure.Err.Error()
	if err := n.Transition(entity.EventSendFailed, now, map[string]string{
		"error": failure.Err.Error(),
		"kind":  string(failure.Kind),
	}); err != nil {
		r.logger.ErrorContext(ctx, "mark failed", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		r.persist(ctx, n, logStart)
		collector.add(func(s *RunStats) { s.Failed++ })
		return
	}

	attempt := n.RetryCount + 1
	retryAt, retryErr := r.retries.ScheduleRetry(n.Category, failure.Kind, attempt, now)
	switch {
	case retryErr == nil:
		if err := n.ScheduleRetry(retryAt); err != nil {
			r.logger.ErrorContext(ctx, "schedule retry", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		}
	case errors.Is(retryErr, retry.ErrPermanentFailure):
		if err := n.ExhaustRetries(now, retryErr.Error()); err != nil {
			r.logger.ErrorContext(ctx, "exhaust retries", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		}
		r.logger.ErrorContext(ctx, "notification failed permanently",
			slog.Int64("notification_id", n.ID),
			slog.String("channel", string(n.Channel)),
			slog.Int("attempts", attempt),
			slog.String("error", failure.Err.Error()))
	default:
		r.logger.ErrorContext(ctx, "retry scheduling", slog.Int64("notification_id", n.ID), slog.Any("error", retryErr))
	}

	r.persist(ctx, n, logStart)
	collector.add(func(s *RunStats) { s.Failed++ })
}

// failPermanently marks an in-flight send failed with no retries left.
func (r *Runner) failPermanently(ctx context.Context, n *entity.Notification, logStart int, reason string, collector *statsCollector) {
	now := r.clock.Now()
	n.ErrorMessage = reason
	if err := n.Transition(entity.EventSendFailed, now, map[string]string{"error": reason}); err != nil {
		r.logger.ErrorContext(ctx, "mark failed", slog.Int64("notification_id", n.ID), slog.Any("error", err))
	} else if err := n.ExhaustRetries(now, reason); err != nil {
		r.logger.ErrorContext(ctx, "exhaust retries", slog.Int64("notification_id", n.ID), slog.Any("error", err))
	}
	r.logger.ErrorContext(ctx, "notification failed permanently",
		slog.Int64("notification_id", n.ID),
		slog.String("channel", string(n.Channel)),
		slog.String("error", reason))
	r.persist(ctx, n, logStart)
	collector.add(func(s *RunStats) { s.Failed++ })
}

// persist writes the notification's mutable fields and appends the log
// records produced since logStart.
func (r *Runner) persist(ctx context.Context, n *entity.Notification, logStart int) {
	if err := r.notifications.Update(ctx, n); err != nil {
		r.logger.ErrorContext(ctx, "update notification", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		return
	}
	if records := n.Log[logStart:]; len(records) > 0 {
		if err := r.notifications.AppendEvents(ctx, n.ID, records); err != nil {
			r.logger.ErrorContext(ctx, "append notification events", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		}
	}
}

// runRetries re-enqueues notifications whose next attempt time has
// passed: failed ones with retries remaining and sends deferred by rate
// limiting. Cancelled notifications are observed here and skipped.
func (r *Runner) runRetries(ctx context.Context, collector *statsCollector) error {
	for {
		batch, err := r.notifications.ListDueRetries(ctx, r.clock.Now(), r.policy.BatchSize)
		if err != nil {
			return fmt.Errorf("list due retries: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		byClass := make(map[entity.PriorityClass][]*entity.Notification)
		for _, n := range batch {
			if n.IsTerminal() {
				collector.add(func(s *RunStats) { s.Skipped++ })
				continue
			}
			collector.add(func(s *RunStats) { s.DueItems++ })
			class := n.Category.PriorityClass()
			byClass[class] = append(byClass[class], n)
		}
		if err := r.fanOutNotifications(ctx, byClass, collector); err != nil {
			return err
		}

		if len(batch) < r.policy.BatchSize {
			return nil
		}
	}
}

func (r *Runner) fanOutNotifications(ctx context.Context, byClass map[entity.PriorityClass][]*entity.Notification, collector *statsCollector) error {
	g, ctx := errgroup.WithContext(ctx)
	for class, batch := range byClass {
		pool, poolCtx := errgroup.WithContext(ctx)
		pool.SetLimit(r.policy.Workers.ForClass(class))
		batch := batch
		g.Go(func() error {
			for _, n := range batch {
				n := n
				pool.Go(func() error {
					if err := poolCtx.Err(); err != nil {
						return err
					}
					r.deliver(poolCtx, n, collector)
					return nil
				})
			}
			return pool.Wait()
		})
	}
	return g.Wait()
}

// runBirthdays synthesizes today's birthday targets at the configured
// local hour, then delivers them like any other due batch. Synthesis is
// idempotent per (tenant, date).
func (r *Runner) runBirthdays(ctx context.Context, tenantID int64, collector *statsCollector) error {
	today := r.clock.Now().In(r.location)
	triggerAt := time.Date(today.Year(), today.Month(), today.Day(), r.policy.BirthdayHour, 0, 0, 0, r.location)

	created, err := r.reminders.SynthesizeBirthdays(ctx, tenantID, today, triggerAt)
	if err != nil {
		return fmt.Errorf("synthesize birthdays: %w", err)
	}
	collector.add(func(s *RunStats) { s.BirthdaysSynthesized = created })

	return r.runDue(ctx, tenantID, JobBirthdays, collector)
}
