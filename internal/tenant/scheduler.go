package tenant

import (
	"context"
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/fanout"
	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/reconcile"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

// Scheduler runs the forever round-robin loop: every round, it visits
// each configured tenant in order, replays up to MaxRecords pending
// events through the Reconciler, then runs the shared-tenant fan-out pass
// once. It is single-threaded by design — no intra-process parallelism —
// so one tenant round always completes before the next begins.
type Scheduler struct {
	Reconciler *reconcile.Reconciler
	Fanout     *fanout.Processor
	Queue      *fanout.Queue
	Tenants    []Config

	MaxRecords   int
	SleepBetween time.Duration
	LivenessPath string

	// Now and Sleep are injected for deterministic tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	watermarks map[string]time.Time
	log        zerolog.Logger
}

// NewScheduler builds a Scheduler. Reconciler, fanoutProcessor and queue
// must share the same underlying fan-out Queue the Reconciler pushes
// into.
func NewScheduler(r *reconcile.Reconciler, fanoutProcessor *fanout.Processor, queue *fanout.Queue, tenants []Config, maxRecords int, sleepBetween time.Duration, livenessPath string) *Scheduler {
	return &Scheduler{
		Reconciler:   r,
		Fanout:       fanoutProcessor,
		Queue:        queue,
		Tenants:      tenants,
		MaxRecords:   maxRecords,
		SleepBetween: sleepBetween,
		LivenessPath: livenessPath,
		Now:          time.Now,
		Sleep:        sleepUntil,
		watermarks:   make(map[string]time.Time),
		log:          logging.WithComponent("tenant"),
	}
}

func sleepUntil(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run loops until ctx is cancelled. It never returns an error: tenant
// round failures are logged and recovered from, and the process keeps
// serving the remaining tenants and future rounds.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		drainFast := s.runRound(ctx)
		if ctx.Err() != nil {
			return
		}
		if drainFast {
			s.log.Debug().Msg("round hit max_records, skipping sleep")
			continue
		}
		s.Sleep(ctx, s.SleepBetween)
	}
}

// runRound processes every configured tenant once and returns true if any
// of them returned a full batch of MaxRecords events, triggering
// drain-fast mode.
func (s *Scheduler) runRound(ctx context.Context) bool {
	s.touchLiveness()
	roundID := uuid.New().String()
	drainFast := false

	for _, tc := range s.Tenants {
		log := logging.WithTenant(s.log, tc.Label, roundID)
		processed := s.runTenantRound(ctx, tc, log)
		if processed >= s.MaxRecords {
			drainFast = true
		}
	}

	if s.Fanout != nil && s.Queue != nil {
		if err := s.Fanout.ProcessEndOfCycle(ctx, s.Queue); err != nil {
			s.log.Error().Err(err).Str("round_id", roundID).Msg("shared tenant fan-out failed")
		}
	}

	return drainFast
}

// runTenantRound processes at most MaxRecords events for one tenant and
// recovers a panic into a logged error so it can never take down the
// whole scheduler.
func (s *Scheduler) runTenantRound(ctx context.Context, tc Config, log zerolog.Logger) (processed int) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("tenant round panicked, skipping rest of round")
			processed = 0
		}
	}()

	source, err := tc.OpenRound(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open source gateway for round")
		return 0
	}

	tenant := reconcile.Tenant{Label: tc.Label, BaseDN: tc.BaseDN, Shared: tc.Shared}

	var events []sourcedb.Event
	if tc.ReadOnly {
		events, err = source.ReadOnlyEventsSince(ctx, s.watermarks[tc.Label], s.MaxRecords)
	} else {
		events, err = source.PendingEvents(ctx, s.MaxRecords)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load events for round")
		return 0
	}
	if len(events) == 0 {
		return 0
	}
	log.Debug().Str("count", humanize.Comma(int64(len(events)))).Msg("events loaded for round")

	updates := make(map[int64]sourcedb.EventUpdate, len(events))
	watermark := s.watermarks[tc.Label]
	for _, ev := range events {
		upd := s.Reconciler.ProcessEvent(ctx, tenant, source, ev)
		updates[ev.RecordID] = upd
		if ev.EventTime.After(watermark) {
			watermark = ev.EventTime
		}
	}

	if tc.ReadOnly {
		// Read-only tenants get no writebacks; the watermark the
		// Scheduler keeps in memory is the only record of progress and is
		// lost on restart (the tenant simply re-reads whatever arrived
		// since the last watermark it can recall).
		s.watermarks[tc.Label] = watermark
	} else if err := source.WriteBack(ctx, updates); err != nil {
		log.Error().Err(err).Msg("failed to write back event outcomes")
	}

	return len(events)
}

// touchLiveness creates or updates the mtime of the liveness file at the
// top of every round.
func (s *Scheduler) touchLiveness() {
	if s.LivenessPath == "" {
		return
	}
	now := s.Now()
	if err := os.Chtimes(s.LivenessPath, now, now); err != nil {
		f, createErr := os.Create(s.LivenessPath)
		if createErr != nil {
			s.log.Warn().Err(createErr).Str("path", s.LivenessPath).Msg("failed to touch liveness file")
			return
		}
		f.Close()
	}
}
