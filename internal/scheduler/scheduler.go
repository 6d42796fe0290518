package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/engine"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// PartitionRunner is the slice of the engine the scheduler drives.
type PartitionRunner interface {
	PartitionFor(ctx context.Context, contentID string, from, to *time.Time, asOf time.Time) (engine.Partition, error)
	Run(ctx context.Context, partitions []engine.Partition, asOf time.Time) (engine.RunSummary, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Recompute recomputedomain.Service
	Engine    *engine.Engine
	Config    Config `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	recompute recomputedomain.Service
	runner    PartitionRunner
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Recompute == nil || p.Engine == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		recompute: p.Recompute,
		runner:    p.Engine,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; unfinished work stays queued
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobRecoverySweep, s.isJobEnabled(JobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecoverySweep, 0, 30*time.Second, s.RecoverySweepJob)
		}},
		{JobRecomputeDrain, s.isJobEnabled(JobRecomputeDrain), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecomputeDrain, s.cfg.BatchSize, s.cfg.JobTimeout, s.RecomputeDrainJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RecomputeDrainJob claims pending recompute requests and recomputes each one.
// Requests are processed one at a time so a failure is recorded against the
// request that caused it.
func (s *Scheduler) RecomputeDrainJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	schedMetrics := obsmetrics.Scheduler()

	reqs, err := s.recompute.Claim(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return nil
	}

	var jobErr error
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			// claimed but unprocessed requests are picked up by the recovery sweep
			schedMetrics.IncBatchDeferred(JobRecomputeDrain, "deadline")
			return err
		}
		if err := s.processRequest(ctx, req); err != nil {
			s.logSchedulerError(ctx, run, "recompute request failed", JobRecomputeDrain, err,
				zap.String("request_id", req.ID.String()),
				zap.String("content_id", req.ContentID),
				zap.Int("attempts", req.Attempts),
			)
			if ferr := s.recompute.Fail(ctx, req.ID, err, isRetryable(err)); ferr != nil {
				jobErr = errors.Join(jobErr, ferr)
			}
			continue
		}
		if err := s.recompute.Complete(ctx, req.ID); err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		run.AddProcessed(1)
		schedMetrics.AddBatchProcessed(JobRecomputeDrain, "recompute_request", 1)
	}
	return jobErr
}

func (s *Scheduler) processRequest(ctx context.Context, req recomputedomain.Request) error {
	asOf := s.clock.Now()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	p, err := s.runner.PartitionFor(ctx, req.ContentID, req.RangeStart, req.RangeEnd, asOf)
	if err != nil {
		return err
	}
	summary, err := s.runner.Run(ctx, []engine.Partition{p}, asOf)
	if err != nil {
		return err
	}
	s.logger(ctx).Debug("recompute request processed",
		zap.String("request_id", req.ID.String()),
		zap.String("content_id", req.ContentID),
		zap.Int("rows", summary.Rows),
	)
	return nil
}

// RecoverySweepJob returns requests stuck in processing past the recovery
// threshold to the queue.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryThreshold)
	n, err := s.recompute.RecoverStale(ctx, cutoff)
	if err != nil {
		return err
	}
	jobRunFromContext(ctx).AddProcessed(n)
	if n > 0 {
		obsmetrics.Scheduler().AddBatchProcessed(JobRecoverySweep, "recompute_request", n)
	}
	return nil
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, factdomain.ErrContentNotFound),
		errors.Is(err, engine.ErrInvalidPartition):
		return false
	default:
		return true
	}
}
