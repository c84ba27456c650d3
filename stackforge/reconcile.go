package stackforge

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

// Reconciler finishes operations that were interrupted after some of their gateway calls committed.
// It rolls each one forward from the journal rather than compensating.
type Reconciler struct {
	system *NakamaStacksSystem
	logger runtime.Logger
	config ReconcileConfig

	cronParser cron.Parser
	cron       *cron.Cron
}

func NewReconciler(system *NakamaStacksSystem, logger runtime.Logger, config *ReconcileConfig) *Reconciler {
	r := &Reconciler{
		system:     system,
		logger:     logger,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
	if config != nil {
		r.config = *config
	}
	if r.config.BatchSize <= 0 {
		r.config.BatchSize = defaultReconcileBatch
	}
	if r.config.MaxAttempts <= 0 {
		r.config.MaxAttempts = defaultReconcileAttempts
	}
	return r
}

// Start runs Reconcile on the configured schedule. An empty schedule does nothing.
func (r *Reconciler) Start() error {
	if r.config.Schedule == "" {
		return nil
	}

	r.cron = cron.New(
		cron.WithParser(r.cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := r.cron.AddFunc(r.config.Schedule, func() {
		if _, err := r.Reconcile(context.Background()); err != nil {
			r.logger.Error("Scheduled inventory reconciliation failed: %v", err)
		}
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("Inventory reconciliation scheduled: %s", r.config.Schedule)
	return nil
}

// Stop halts scheduled runs and waits for a running one to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Reconcile resumes pending operations old enough to be abandoned and returns how many it finished.
// Operations that never committed a step changed nothing remotely, and operations whose every step
// committed only missed their journal cleanup. Both are discarded.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	records, err := r.system.journal.Pending(ctx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	cutoff := r.system.now().Add(-r.config.minAge()).Unix()
	resumed := 0
	for _, rec := range records {
		if rec.UpdateTimeSec > cutoff {
			continue
		}
		logger := r.logger.WithFields(rec.logFields())

		if rec.State == OperationFailed {
			continue
		}
		if rec.CommittedSteps == 0 || rec.finished() {
			logger.Info("Discarding operation %s with %d/%d committed steps", rec.Id, rec.CommittedSteps, rec.TotalSteps)
			if err := r.system.journal.Complete(ctx, rec); err != nil {
				logger.Warn("Failed to discard operation %s: %v", rec.Id, err)
			}
			continue
		}

		ok, err := r.system.resume(ctx, logger, rec, r.config.MaxAttempts)
		if err != nil {
			logger.Error("Failed to resume operation %s: %v", rec.Id, err)
			continue
		}
		if ok {
			resumed++
		}
	}

	if resumed > 0 {
		r.logger.Info("Resumed %d interrupted inventory operations", resumed)
	}
	return resumed, nil
}

// NextRun reports when the schedule fires next after t.
func (r *Reconciler) NextRun(t time.Time) (time.Time, error) {
	schedule, err := r.cronParser.Parse(r.config.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t), nil
}
