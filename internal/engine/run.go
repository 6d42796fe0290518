package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	obsmetrics "github.com/smallbiznis/contentfin/internal/observability/metrics"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunSummary describes one batch. Results keeps input order; a failed
// partition has a zero Result and its error in the joined error.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	AsOf       time.Time `json:"as_of"`
	Partitions int       `json:"partitions"`
	Failed     int       `json:"failed"`
	Rows       int       `json:"rows"`
	Results    []Result  `json:"results"`
}

// Run computes and writes partitions at asOf against one rule snapshot.
// Partition failures are joined without cancelling the rest of the batch.
func (e *Engine) Run(ctx context.Context, partitions []Partition, asOf time.Time) (RunSummary, error) {
	ctx, runID := correlation.EnsureCorrelationID(ctx)
	summary := RunSummary{RunID: runID, AsOf: asOf.UTC(), Partitions: len(partitions), Results: make([]Result, len(partitions))}
	if len(partitions) == 0 {
		return summary, nil
	}

	snapshot, err := e.rules.Snapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("load rule snapshot: %w", err)
	}

	log := e.log.With(zap.String("run_id", runID), zap.Time("as_of", summary.AsOf))
	log.Info("engine.run.start", zap.Int("partitions", len(partitions)))
	started := time.Now()

	var (
		mu     sync.Mutex
		runErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range partitions {
		g.Go(func() error {
			result, err := e.runPartition(gctx, p, summary.AsOf, snapshot)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				runErr = errors.Join(runErr, fmt.Errorf("partition %s: %w", p.ContentID, err))
				return nil
			}
			summary.Results[i] = result
			summary.Rows += len(result.Metrics)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("engine.run.finish",
		zap.Int("failed", summary.Failed),
		zap.Int("rows", summary.Rows),
		zap.Duration("duration", time.Since(started)),
	)
	return summary, runErr
}

func (e *Engine) runPartition(ctx context.Context, p Partition, asOf time.Time, resolver ruledomain.Resolver) (Result, error) {
	started := time.Now()
	log := e.partitionLogger(ctx, p)
	log.Debug("engine.partition.start")

	result, err := e.ComputePartition(ctx, p, asOf, resolver)
	if err == nil {
		err = e.writer.ReplaceRange(ctx, e.db, result.Partition.ContentID, result.Partition.From, result.Partition.To, result.Metrics)
	}

	outcome := obsmetrics.PartitionOutcomeOK
	switch {
	case err != nil:
		outcome = obsmetrics.PartitionOutcomeFailed
	case len(result.Report.Skipped) > 0:
		outcome = obsmetrics.PartitionOutcomePartial
	}
	e.schedulerMetrics.ObservePartition(outcome, time.Since(started))
	e.metrics.RecordPartition(ctx, outcome)
	for key, count := range result.Report.SkippedCounts() {
		e.schedulerMetrics.AddFactsSkipped(key[0], key[1], count)
		e.metrics.RecordFactsSkipped(ctx, key[0], key[1], count)
	}

	if err != nil {
		log.Warn("engine.partition.failed", zap.Error(err))
		return Result{}, err
	}
	log.Debug("engine.partition.finish",
		zap.String("outcome", outcome),
		zap.Int("rows", len(result.Metrics)),
		zap.Int("skipped", len(result.Report.Skipped)),
	)
	return result, nil
}

// DryRun computes partitions under resolver without writing. Any partition
// failure fails the dry run.
func (e *Engine) DryRun(ctx context.Context, partitions []Partition, asOf time.Time, resolver ruledomain.Resolver) ([]Result, error) {
	results := make([]Result, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range partitions {
		g.Go(func() error {
			result, err := e.ComputePartition(gctx, p, asOf, resolver)
			if err != nil {
				return fmt.Errorf("partition %s: %w", p.ContentID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PartitionFor covers a content item from its publish date through asOf, or
// from..to when both are set.
func (e *Engine) PartitionFor(ctx context.Context, contentID string, from, to *time.Time, asOf time.Time) (Partition, error) {
	p := Partition{ContentID: contentID, To: factdomain.DateOf(asOf)}
	if to != nil {
		p.To = factdomain.DateOf(*to)
	}
	if from != nil {
		p.From = factdomain.DateOf(*from)
		return p, p.Validate()
	}
	content, err := e.reader.GetContent(ctx, contentID)
	if err != nil {
		return Partition{}, err
	}
	if content == nil {
		return Partition{}, fmt.Errorf("%w: %s", factdomain.ErrContentNotFound, contentID)
	}
	p.From = factdomain.DateOf(content.PublishedAt)
	if p.To.Before(p.From) {
		p.To = p.From
	}
	return p, nil
}

// AllPartitions returns one partition per known content item.
func (e *Engine) AllPartitions(ctx context.Context, from, to *time.Time, asOf time.Time) ([]Partition, error) {
	ids, err := e.reader.ListContentIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Partition, 0, len(ids))
	for _, id := range ids {
		p, err := e.PartitionFor(ctx, id, from, to, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
