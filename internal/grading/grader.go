// Package grading settles live positions once their match has a final
// result. A scheduled scan picks up everything old enough to grade; the
// admin endpoint grades one match on demand.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/metrics"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/position"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/results"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/settlement"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/store"
)

// DefaultSchedule runs a grading pass every 30 seconds.
const DefaultSchedule = "@every 30s"

// Positions is the part of the store the grader reads.
type Positions interface {
	ListLivePositions(ctx context.Context, olderThan time.Time) ([]model.Position, error)
	ListLivePositionsByMatch(ctx context.Context, matchID string) ([]model.Position, error)
}

// Settler settles one position at its final result.
type Settler interface {
	Settle(ctx context.Context, id string, finalResult decimal.Decimal) (*position.Outcome, error)
}

// Report summarizes one grading pass.
type Report struct {
	Matches int `json:"matches"` // matches looked at
	Pending int `json:"pending"` // positions whose match has no result yet
	Settled int `json:"settled"`
	Skipped int `json:"skipped"` // already settled by someone else
	Failed  int `json:"failed"`
}

func (r *Report) add(o Report) {
	r.Matches += o.Matches
	r.Pending += o.Pending
	r.Settled += o.Settled
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Grader settles positions whose match has completed.
type Grader struct {
	positions Positions
	settler   Settler
	source    results.Source
	minAge    time.Duration
	schedule  string
	now       func() time.Time
}

// NewGrader creates a grader. Positions younger than minAge are left for
// the next pass; an empty schedule means DefaultSchedule.
func NewGrader(positions Positions, settler Settler, source results.Source, minAge time.Duration, schedule string) *Grader {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Grader{
		positions: positions,
		settler:   settler,
		source:    source,
		minAge:    minAge,
		schedule:  schedule,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run schedules RunOnce on the grader's cron schedule until ctx is done.
// A pass that is still running when the next one is due is skipped.
func (g *Grader) Run(ctx context.Context) error {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(g.schedule, func() {
		if _, err := g.RunOnce(ctx); err != nil {
			slog.Error("grading run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid grading schedule %q: %w", g.schedule, err)
	}

	slog.Info("grading scheduler started", "schedule", g.schedule, "min_age", g.minAge.String())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("grading scheduler stopped")
	return nil
}

// RunOnce grades every live position older than the minimum age whose
// match has a final result. Per-match failures are counted, not returned.
func (g *Grader) RunOnce(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grading: panic in run: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		} else if rep.Failed > 0 {
			outcome = "partial"
		}
		metrics.GradingRuns.WithLabelValues(outcome).Inc()
		metrics.GradingDuration.Observe(time.Since(start).Seconds())
	}()

	var olderThan time.Time
	if g.minAge > 0 {
		olderThan = g.now().Add(-g.minAge)
	}
	live, err := g.positions.ListLivePositions(ctx, olderThan)
	if err != nil {
		return rep, fmt.Errorf("list live positions: %w", err)
	}
	if len(live) == 0 {
		return rep, nil
	}

	byMatch := make(map[string][]model.Position)
	var order []string
	for _, p := range live {
		if _, ok := byMatch[p.MatchID]; !ok {
			order = append(order, p.MatchID)
		}
		byMatch[p.MatchID] = append(byMatch[p.MatchID], p)
	}

	slog.Info("grading pass", "positions", len(live), "matches", len(order))

	for _, matchID := range order {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		positions := byMatch[matchID]
		rep.Matches++

		final, ok, err := g.source.FinalResult(ctx, matchID)
		if err != nil {
			slog.Error("failed to fetch match result", "match", matchID, "err", err)
			rep.Failed += len(positions)
			continue
		}
		if !ok {
			rep.Pending += len(positions)
			continue
		}

		rep.add(g.settleAll(ctx, matchID, positions, final))
	}

	slog.Info("grading pass complete",
		"matches", rep.Matches,
		"settled", rep.Settled,
		"skipped", rep.Skipped,
		"pending", rep.Pending,
		"failed", rep.Failed,
	)
	return rep, nil
}

// GradeMatch settles every live position on matchID at result, regardless
// of age.
func (g *Grader) GradeMatch(ctx context.Context, matchID string, result decimal.Decimal) (Report, error) {
	positions, err := g.positions.ListLivePositionsByMatch(ctx, matchID)
	if err != nil {
		return Report{}, fmt.Errorf("list positions for match %s: %w", matchID, err)
	}
	rep := g.settleAll(ctx, matchID, positions, result)
	rep.Matches = 1
	return rep, nil
}

func (g *Grader) settleAll(ctx context.Context, matchID string, positions []model.Position, final decimal.Decimal) Report {
	var rep Report
	for _, p := range positions {
		err := g.settleOne(ctx, p.ID, final)
		switch {
		case err == nil:
			rep.Settled++
		case errors.Is(err, settlement.ErrPositionClosed), errors.Is(err, store.ErrStaleState):
			// A user close or another grader got there first.
			metrics.StaleSettlements.Inc()
			slog.Warn("position already settled, skipping", "id", p.ID, "match", matchID, "err", err)
			rep.Skipped++
		default:
			slog.Error("failed to settle position", "id", p.ID, "match", matchID, "err", err)
			rep.Failed++
		}
	}
	return rep
}

func (g *Grader) settleOne(ctx context.Context, id string, final decimal.Decimal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grading: panic settling %s: %v", id, r)
		}
	}()
	_, err = g.settler.Settle(ctx, id, final)
	return err
}
