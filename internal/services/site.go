package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hamburg-family-events-scraper/internal/models"
)

// SitePipeline discovers event candidates from an operator website: find the
// calendar page, fetch its content, extract candidates from it. It implements
// the pipeline's Discoverer interface for site sources.
type SitePipeline struct {
	navigator *Navigator
	fetcher   *PageFetcher
	extractor *Extractor
	retry     RetryPolicy
	log       *logrus.Logger
}

// NewSitePipeline wires the navigator, fetcher and extractor into one
// discovery adapter.
func NewSitePipeline(navigator *Navigator, fetcher *PageFetcher, extractor *Extractor, log *logrus.Logger) *SitePipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SitePipeline{
		navigator: navigator,
		fetcher:   fetcher,
		extractor: extractor,
		retry:     DefaultRetryPolicy(),
		log:       log,
	}
}

// Discover runs the site pipeline for one source. The calendar URL found by
// navigation is cached on the source; later runs reuse it and only re-navigate
// when it stops yielding content.
func (s *SitePipeline) Discover(ctx context.Context, source *models.Source) (*models.Discovery, error) {
	target := source.TargetURL
	if target == "" {
		discovered, err := s.navigator.DiscoverTarget(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("navigation failed for %s: %w", source.Name, err)
		}
		if discovered == "" {
			// No calendar page found; the root page itself may list events.
			discovered = source.InputURL
			s.log.WithField("source", source.Name).
				Warn("no calendar url identified, extracting from root page")
		}
		target = discovered
		source.TargetURL = target
	}

	content, err := s.fetcher.FetchReadable(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar page %s: %w", target, err)
	}

	// The link list comes from the raw HTML so detail links survive the
	// markdown rendering. Failure here is tolerable; extraction still works
	// without links.
	var links []string
	if html, err := s.fetcher.FetchHTML(ctx, target); err == nil {
		links = ExtractLinkList(html, target, 80)
	}

	start := time.Now()
	var candidates []models.RawCandidate
	var tokens int
	err = s.retry.Do(ctx, func() error {
		var extractErr error
		candidates, tokens, extractErr = s.extractor.Extract(ctx, content, source.Name, target, links)
		return extractErr
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed for %s: %w", source.Name, err)
	}

	s.log.WithFields(logrus.Fields{
		"source":   source.Name,
		"target":   target,
		"found":    len(candidates),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("site discovery completed")

	return &models.Discovery{
		Candidates: candidates,
		Provenance: models.Provenance{
			Model:      s.extractor.model,
			TargetURL:  target,
			TokensUsed: tokens,
		},
	}, nil
}
