package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hamburg-family-events-scraper/internal/models"
)

// Runner executes pipeline runs for many sources concurrently, bounded by a
// worker limit sized to respect external provider rate limits.
type Runner struct {
	pipeline *Pipeline
	limit    int
	log      *logrus.Logger
}

// NewRunner creates a runner executing at most limit runs at once.
func NewRunner(pipeline *Pipeline, limit int, log *logrus.Logger) *Runner {
	if limit <= 0 {
		limit = 3
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{pipeline: pipeline, limit: limit, log: log}
}

// RunAll runs the pipeline for every source and returns the reports in source
// order. Cancelling ctx stops scheduling new runs, but runs already in flight
// complete and persist what they have rather than leaving partial upserts.
func (r *Runner) RunAll(ctx context.Context, sources []models.Source) []*models.RunReport {
	reports := make([]*models.RunReport, len(sources))

	group := new(errgroup.Group)
	group.SetLimit(r.limit)

	for i := range sources {
		if ctx.Err() != nil {
			r.log.Warn("batch cancelled, skipping remaining sources")
			for j := i; j < len(sources); j++ {
				tracker := NewStageTracker(sources[j].ID)
				tracker.Fail("batch cancelled before run started")
				reports[j] = tracker.Summarize()
			}
			break
		}

		i := i
		group.Go(func() error {
			runCtx := context.WithoutCancel(ctx)
			report, _ := r.pipeline.Run(runCtx, &sources[i])
			reports[i] = report
			return nil
		})
	}

	group.Wait()
	return reports
}

// Totals aggregates a batch of run reports into one summary report.
func Totals(reports []*models.RunReport) models.RunReport {
	var total models.RunReport
	total.IssueSummary = make(map[string]int)
	total.Success = true
	for _, report := range reports {
		if report == nil {
			continue
		}
		if !report.Success {
			total.Success = false
		}
		total.Found += report.Found
		total.Normalized += report.Normalized
		total.DroppedValidation += report.DroppedValidation
		total.DroppedPersistence += report.DroppedPersistence
		total.Saved += report.Saved
		total.New += report.New
		total.Existing += report.Existing
		total.Geocoded += report.Geocoded
		total.TokensUsed += report.TokensUsed
		total.Duration += report.Duration
		for reason, count := range report.IssueSummary {
			total.IssueSummary[reason] += count
		}
	}
	return total
}
