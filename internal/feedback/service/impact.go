package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentfin/internal/engine"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/internal/feedback/domain"
	kpidomain "github.com/smallbiznis/contentfin/internal/kpi/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"github.com/smallbiznis/contentfin/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const (
	defaultWindowDays    = 30
	defaultMaxPartitions = 50
)

// Simulator is the slice of the engine impact analysis needs.
type Simulator interface {
	DryRun(ctx context.Context, partitions []engine.Partition, asOf time.Time, resolver ruledomain.Resolver) ([]engine.Result, error)
	PartitionFor(ctx context.Context, contentID string, from, to *time.Time, asOf time.Time) (engine.Partition, error)
	AllPartitions(ctx context.Context, from, to *time.Time, asOf time.Time) ([]engine.Partition, error)
}

// proposal is a validated rule change ready to analyse or apply.
type proposal struct {
	payload domain.Payload
	target  string
}

func (p proposal) candidate(now time.Time) ruledomain.RuleOverride {
	from := now
	if p.payload.EffectiveFrom != nil {
		from = *p.payload.EffectiveFrom
	}
	return ruledomain.RuleOverride{
		OverrideType:  p.payload.RuleType,
		TargetID:      p.target,
		NewValue:      p.payload.NewValue,
		EffectiveFrom: from.UTC(),
		EffectiveTo:   p.payload.EffectiveTo,
		IsActive:      true,
	}
}

// impactAsOf picks an instant the candidate governs so the dry run shows its
// effect: now when covered, otherwise the nearest edge of its interval.
func impactAsOf(candidate ruledomain.RuleOverride, now time.Time) time.Time {
	switch {
	case candidate.Covers(now):
		return now
	case now.Before(candidate.EffectiveFrom):
		return candidate.EffectiveFrom
	default:
		return candidate.EffectiveTo.Add(-time.Second)
	}
}

func (s *Service) analyze(ctx context.Context, p proposal) (domain.ImpactAnalysis, error) {
	now := s.clock.Now()
	finance := s.finance.Get()
	windowDays := finance.Impact.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	maxPartitions := finance.Impact.MaxPartitions
	if maxPartitions <= 0 {
		maxPartitions = defaultMaxPartitions
	}

	candidate := p.candidate(now)
	asOf := impactAsOf(candidate, now)
	windowTo := factdomain.DateOf(asOf)
	windowFrom := windowTo.AddDate(0, 0, -(windowDays - 1))

	base, err := s.rules.Snapshot(ctx)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	proposed, err := ruledomain.Overlay(base, candidate)
	if err != nil {
		return domain.ImpactAnalysis{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	analysis := domain.ImpactAnalysis{
		RunID:          correlation.NewRunID(),
		ComputedAt:     now,
		AsOf:           asOf,
		RuleType:       string(candidate.OverrideType),
		OverrideTarget: candidate.TargetID,
		EffectiveFrom:  candidate.EffectiveFrom,
		EffectiveTo:    candidate.EffectiveTo,
		ProposedRule:   p.payload.NewValue,
		WindowFrom:     windowFrom,
		WindowTo:       windowTo,
		Before:         zeroTotals(),
		After:          zeroTotals(),
	}
	if current, err := base.Resolve(ctx, candidate.OverrideType, candidate.TargetID, asOf); err == nil {
		analysis.CurrentRule = current.Fragment().Map()
	} else if !errors.Is(err, ruledomain.ErrRuleNotFound) {
		return domain.ImpactAnalysis{}, err
	}

	partitions, err := s.impactPartitions(ctx, candidate.TargetID, windowFrom, windowTo, asOf)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	analysis.PartitionsTotal = len(partitions)
	if len(partitions) > maxPartitions {
		partitions = partitions[:maxPartitions]
		analysis.Truncated = true
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("analysis limited to %d of %d partitions", maxPartitions, analysis.PartitionsTotal))
	}
	analysis.PartitionsAnalyzed = len(partitions)
	if len(partitions) == 0 {
		analysis.Delta = analysis.After.Sub(analysis.Before)
		analysis.Warnings = append(analysis.Warnings, "no partitions in the analysis window")
		return analysis, nil
	}

	before, err := s.sim.DryRun(ctx, partitions, asOf, base)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	after, err := s.sim.DryRun(ctx, partitions, asOf, proposed)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}

	var roiDeltas []float64
	for i := range partitions {
		ci, deltas := diffPartition(before[i], after[i], &analysis)
		roiDeltas = append(roiDeltas, deltas...)
		if ci.RowsChanged > 0 {
			analysis.Contents = append(analysis.Contents, ci)
		}
		if n := len(after[i].Report.Skipped); n > 0 {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("content %s: %d facts skipped", partitions[i].ContentID, n))
		}
	}
	analysis.Delta = analysis.After.Sub(analysis.Before)
	analysis.ROIDelta = summarize(roiDeltas)

	s.log.Debug("impact analysed",
		zap.String("run_id", analysis.RunID),
		zap.String("rule_type", analysis.RuleType),
		zap.String("target_id", analysis.OverrideTarget),
		zap.Int("partitions", analysis.PartitionsAnalyzed),
		zap.Int("rows_changed", analysis.RowsChanged),
	)
	return analysis, nil
}

func (s *Service) impactPartitions(ctx context.Context, target string, from, to, asOf time.Time) ([]engine.Partition, error) {
	if target != "" {
		p, err := s.sim.PartitionFor(ctx, target, &from, &to, asOf)
		if err != nil {
			return nil, err
		}
		return []engine.Partition{p}, nil
	}
	partitions, err := s.sim.AllPartitions(ctx, &from, &to, asOf)
	if err != nil {
		return nil, err
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].ContentID < partitions[j].ContentID })
	return partitions, nil
}

func diffPartition(before, after engine.Result, analysis *domain.ImpactAnalysis) (domain.ContentImpact, []float64) {
	ci := domain.ContentImpact{
		ContentID: after.Partition.ContentID,
		Before:    zeroTotals(),
		After:     zeroTotals(),
	}
	beforeRows := indexRows(before.Metrics)
	afterRows := indexRows(after.Metrics)

	dates := make([]time.Time, 0, len(beforeRows)+len(afterRows))
	seen := map[time.Time]bool{}
	for _, rows := range []map[time.Time]kpidomain.DailyMetric{beforeRows, afterRows} {
		for d := range rows {
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var deltas []float64
	for _, d := range dates {
		b, hasBefore := beforeRows[d]
		a, hasAfter := afterRows[d]
		analysis.RowsCompared++
		addTotals(&ci.Before, b)
		addTotals(&ci.After, a)
		if hasBefore && hasAfter && a.Checksum == b.Checksum {
			continue
		}
		analysis.RowsChanged++
		ci.RowsChanged++
		if a.ROITier != b.ROITier {
			analysis.TierChanges++
		}
		deltas = append(deltas, a.ROIPct.Sub(b.ROIPct).InexactFloat64())
	}
	addImpact(&analysis.Before, ci.Before)
	addImpact(&analysis.After, ci.After)
	return ci, deltas
}

func indexRows(rows []kpidomain.DailyMetric) map[time.Time]kpidomain.DailyMetric {
	out := make(map[time.Time]kpidomain.DailyMetric, len(rows))
	for _, r := range rows {
		out[factdomain.DateOf(r.EventDate)] = r
	}
	return out
}

func zeroTotals() domain.ImpactTotals {
	return domain.ImpactTotals{
		AllocatedCost:     decimal.Zero,
		ChannelCost:       decimal.Zero,
		AttributedRevenue: decimal.Zero,
		NetProfit:         decimal.Zero,
	}
}

func addTotals(t *domain.ImpactTotals, row kpidomain.DailyMetric) {
	t.AllocatedCost = t.AllocatedCost.Add(row.AllocatedCost)
	t.ChannelCost = t.ChannelCost.Add(row.ChannelCost)
	t.AttributedRevenue = t.AttributedRevenue.Add(row.AttributedRevenue)
	t.NetProfit = t.NetProfit.Add(row.NetProfit)
}

func addImpact(t *domain.ImpactTotals, o domain.ImpactTotals) {
	t.AllocatedCost = t.AllocatedCost.Add(o.AllocatedCost)
	t.ChannelCost = t.ChannelCost.Add(o.ChannelCost)
	t.AttributedRevenue = t.AttributedRevenue.Add(o.AttributedRevenue)
	t.NetProfit = t.NetProfit.Add(o.NetProfit)
}

func summarize(values []float64) domain.ImpactStats {
	if len(values) == 0 {
		return domain.ImpactStats{}
	}
	data := stats.Float64Data(values)
	mean, _ := data.Mean()
	median, _ := data.Median()
	lo, _ := data.Min()
	hi, _ := data.Max()
	return domain.ImpactStats{
		Mean:   round4(mean),
		Median: round4(median),
		Min:    round4(lo),
		Max:    round4(hi),
	}
}

func round4(v float64) float64 {
	r, _ := stats.Round(v, 4)
	return r
}
