// Package reconcile repairs stale queue and appointment state once business
// days are over: past queue partitions are closed and unattended online
// appointments are marked missed. Every sweep is idempotent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/metrics"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

const (
	TriggerStartup  = "startup"
	TriggerHourly   = "hourly"
	TriggerRollover = "rollover"
	TriggerManual   = "manual"
)

const completionReason = "Automatically completed: queue date has passed"

type Options struct {
	SweepInterval    time.Duration
	RolloverInterval time.Duration
	SweepTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	if o.RolloverInterval <= 0 {
		o.RolloverInterval = time.Minute
	}
	if o.SweepTimeout <= 0 {
		o.SweepTimeout = 2 * time.Minute
	}
	return o
}

type Result struct {
	ProcessedCount int    `json:"processed_count"`
	Completed      int    `json:"completed"`
	Missed         int    `json:"missed"`
	Failed         int    `json:"failed"`
	Message        string `json:"message"`
}

type Scheduler struct {
	repo    *store.Repository
	dates   *bizdate.Partitioner
	audit   *audit.Emitter
	metrics *metrics.FrontDeskMetrics
	opts    Options
	tracer  trace.Tracer

	sweepMu sync.Mutex

	keyMu   sync.Mutex
	lastKey string
}

func New(repo *store.Repository, dates *bizdate.Partitioner, emitter *audit.Emitter, m *metrics.FrontDeskMetrics, opts Options) *Scheduler {
	return &Scheduler{
		repo:    repo,
		dates:   dates,
		audit:   emitter,
		metrics: m,
		opts:    opts.withDefaults(),
		tracer:  otel.Tracer("qms/frontdesk-service/reconcile"),
	}
}

// Initialize runs a first sweep and starts the periodic loop in the
// background. The loop stops when ctx is cancelled.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.observeKey(s.dates.Today())
	s.runSweep(ctx, TriggerStartup)
	go s.Run(ctx)
}

// Run blocks until ctx is cancelled, sweeping on the sweep interval and
// whenever the business date changes.
func (s *Scheduler) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(s.opts.SweepInterval)
	defer sweepTicker.Stop()
	rolloverTicker := time.NewTicker(s.opts.RolloverInterval)
	defer rolloverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			s.runSweep(ctx, TriggerHourly)
		case <-rolloverTicker.C:
			s.CheckRollover(ctx)
		}
	}
}

// CheckRollover sweeps when today's business date differs from the last one
// observed and reports whether it did.
func (s *Scheduler) CheckRollover(ctx context.Context) bool {
	today := s.dates.Today()
	previous, changed := s.swapKey(today)
	if !changed {
		return false
	}
	if previous != "" {
		logging.FromContext(ctx).Info().
			Str("previous", previous).
			Str("today", today).
			Msg("business date rolled over")
	}
	s.runSweep(ctx, TriggerRollover)
	return true
}

func (s *Scheduler) observeKey(key string) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	s.lastKey = key
}

func (s *Scheduler) swapKey(key string) (string, bool) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.lastKey == key {
		return key, false
	}
	previous := s.lastKey
	s.lastKey = key
	return previous, true
}

func (s *Scheduler) runSweep(ctx context.Context, trigger string) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.opts.SweepTimeout)
	defer cancel()

	result, err := s.Sweep(sweepCtx, trigger)
	logger := logging.FromContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Str("trigger", trigger).Msg("reconciliation sweep failed")
		return
	}
	if result.ProcessedCount > 0 || result.Failed > 0 {
		logger.Info().
			Str("trigger", trigger).
			Int("completed", result.Completed).
			Int("missed", result.Missed).
			Int("failed", result.Failed).
			Msg(result.Message)
	}
}

// Sweep completes stale queue entries and marks elapsed appointments missed.
// Failures on single records are logged and counted; only failing to list
// records aborts the sweep.
func (s *Scheduler) Sweep(ctx context.Context, trigger string) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.Sweep", trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	started := time.Now()
	defer func() {
		s.metrics.ObserveSweep(trigger, time.Since(started).Seconds(), result.Completed, result.Missed, result.Failed, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("reconcile.completed", result.Completed),
			attribute.Int("reconcile.missed", result.Missed),
			attribute.Int("reconcile.failed", result.Failed),
		)
	}()

	today := s.dates.Today()

	completed, failed, err := s.completePastQueues(ctx, today)
	result.Completed = completed
	result.Failed += failed
	if err != nil {
		return result, err
	}

	missed, failed, err := s.markMissed(ctx, today)
	result.Missed = missed
	result.Failed += failed
	result.ProcessedCount = result.Completed + result.Missed
	result.Message = summary(result)
	return result, err
}

func summary(r Result) string {
	if r.ProcessedCount == 0 {
		if r.Failed > 0 {
			return fmt.Sprintf("Nothing reconciled, %d records failed", r.Failed)
		}
		return "Nothing to reconcile"
	}
	return fmt.Sprintf("Auto-completed %d past queue entries and marked %d appointments as missed", r.Completed, r.Missed)
}

func (s *Scheduler) completePastQueues(ctx context.Context, today string) (int, int, error) {
	dates, err := s.repo.QueueDates(ctx)
	if err != nil {
		return 0, 0, err
	}
	logger := logging.FromContext(ctx)

	completed, failed := 0, 0
	for _, date := range dates {
		if !bizdate.Valid(date) || !bizdate.Before(date, today) {
			continue
		}
		entries, err := s.repo.ListQueue(ctx, date)
		if err != nil {
			logger.Error().Err(err).Str("date", date).Msg("list past queue failed")
			failed++
			continue
		}
		for _, entry := range entries {
			if entry.Status == models.QueueCompleted {
				continue
			}
			if err := s.completeEntry(ctx, entry); err != nil {
				logger.Error().Err(err).
					Str("date", date).
					Str("queue_entry_id", entry.ID).
					Msg("auto-complete queue entry failed")
				failed++
				continue
			}
			completed++
		}
	}

	if completed > 0 {
		s.audit.Emit(ctx, audit.System(), fmt.Sprintf("Auto-completed %d past queue entries", completed))
	}
	return completed, failed, nil
}

func (s *Scheduler) completeEntry(ctx context.Context, entry models.QueueEntry) error {
	now := s.dates.Now().UTC()
	fields := map[string]interface{}{
		"status":              models.QueueCompleted,
		"completed_by_system": true,
		"completion_reason":   completionReason,
		"updated_at":          now,
	}
	if entry.CompletedAt == nil {
		fields["completed_at"] = now
	}
	writes := []docstore.Write{{Path: store.QueueEntryPath(entry.Date, entry.ID), Fields: fields, Expect: store.InStatus(entry.Status)}}

	if entry.AppointmentID != nil && *entry.AppointmentID != "" {
		appt, err := s.repo.GetAppointment(ctx, *entry.AppointmentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			logging.FromContext(ctx).Warn().
				Str("queue_entry_id", entry.ID).
				Str("appointment_id", *entry.AppointmentID).
				Msg("queue entry references a missing appointment")
		case err != nil:
			return err
		case !models.IsTerminal(appt.Status):
			writes = append(writes, docstore.Write{
				Path:   store.AppointmentPath(appt.ID),
				Expect: store.InStatus(appt.Status),
				Fields: map[string]interface{}{
					"status":       models.StatusCompleted,
					"completed_at": now,
					"updated_at":   now,
				},
			})
			if appt.PatientID != "" {
				writes = append(writes, docstore.Write{
					Path:   store.PatientPath(appt.PatientID),
					Fields: map[string]interface{}{"status": models.StatusCompleted, "updated_at": now},
				})
			}
		}
	}
	return s.repo.Apply(ctx, writes...)
}

func (s *Scheduler) markMissed(ctx context.Context, today string) (int, int, error) {
	appointments, err := s.repo.ListAppointments(ctx)
	if err != nil {
		return 0, 0, err
	}
	logger := logging.FromContext(ctx)
	at := s.dates.Now()

	missed, failed := 0, 0
	for _, appt := range appointments {
		if appt.AppointmentType != models.TypeOnline || appt.Status != models.StatusScheduled || appt.CheckedIn {
			continue
		}
		key, err := s.dates.Normalize(appt.PreferredDate)
		if err != nil {
			logger.Warn().Str("appointment_id", appt.ID).Str("preferred_date", appt.PreferredDate).Msg("unreadable preferred date")
			continue
		}
		elapsed, err := s.dates.Elapsed(key, at)
		if err != nil || !elapsed || !bizdate.Before(key, today) {
			continue
		}

		now := at.UTC()
		writes := []docstore.Write{{
			Path:   store.AppointmentPath(appt.ID),
			Expect: store.AwaitingCheckIn(),
			Fields: map[string]interface{}{
				"status":           models.StatusMissed,
				"missed_by_system": true,
				"missed_by":        audit.System().UserRef(),
				"missed_by_name":   audit.System().FullName,
				"missed_timestamp": now,
				"updated_at":       now,
			},
		}}
		if appt.PatientID != "" {
			writes = append(writes, docstore.Write{
				Path:   store.PatientPath(appt.PatientID),
				Fields: map[string]interface{}{"status": models.StatusMissed, "updated_at": now},
			})
		}
		if err := s.repo.Apply(ctx, writes...); err != nil {
			if errors.Is(err, store.ErrInvalidState) {
				// Checked in, cancelled or rescheduled since the list was read.
				logger.Info().Str("appointment_id", appt.ID).Msg("appointment changed during sweep, not marked missed")
				continue
			}
			logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("auto-mark missed failed")
			failed++
			continue
		}
		missed++
		s.audit.Emit(ctx, audit.System(), "Automatically marked appointment as missed: "+appt.FullName)
	}
	return missed, failed, nil
}
