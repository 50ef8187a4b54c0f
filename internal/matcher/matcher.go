// internal/matcher/matcher.go
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/directory"
	"assignment-engine/internal/models"
)

var (
	ErrNoMatch = errors.New("NO_MATCH")
)

// DefaultCapacity applies when a consultant has no configured capacity.
const DefaultCapacity = 10

// Matcher selects the best available consultant for a sector using
// capacity-aware scoring. Matching is a pure read: it never writes and is
// deterministic for a given candidate pool and load snapshot.
type Matcher struct {
	directory       directory.Reader
	defaultCapacity int
	logger          logger.Logger
}

func New(dir directory.Reader, defaultCapacity int, log logger.Logger) *Matcher {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}
	return &Matcher{
		directory:       dir,
		defaultCapacity: defaultCapacity,
		logger:          log.WithFields(map[string]interface{}{"component": "matcher"}),
	}
}

type candidate struct {
	consultant models.Consultant
	load       int
	score      float64
}

// Match returns the best available consultant in a sector, or ErrNoMatch
// when the sector has no active approved consultant. Candidates at or over
// capacity remain eligible; capacity only penalizes their score, so a
// saturated sector still assigns somewhere rather than starving the
// application.
func (m *Matcher) Match(ctx context.Context, sectorID string) (*models.Consultant, error) {
	start := time.Now()
	defer func() {
		metrics.MatchDuration.Observe(time.Since(start).Seconds())
	}()

	if sectorID == "" {
		return nil, fmt.Errorf("sector id is required")
	}

	pool, err := m.directory.ListConsultants(ctx, sectorID, true)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(pool) == 0 {
		metrics.MatchOutcomes.WithLabelValues("no_match").Inc()
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, commonerrors.NewNoMatchError(sectorID))
	}

	var best *candidate
	for i := range pool {
		c := pool[i]
		load, err := m.directory.OpenLoad(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load for consultant %s: %w", c.ID, err)
		}

		capacity := c.MaxConcurrentApplications
		if capacity <= 0 {
			capacity = m.defaultCapacity
		}

		cand := candidate{
			consultant: c,
			load:       load,
			score:      float64(load) / float64(capacity),
		}

		if best == nil || cand.betterThan(best) {
			best = &cand
		}
	}

	m.logger.Info("consultant matched", map[string]interface{}{
		"sectorId":     sectorID,
		"consultantId": best.consultant.ID,
		"load":         best.load,
		"score":        best.score,
		"poolSize":     len(pool),
	})
	metrics.MatchOutcomes.WithLabelValues("matched").Inc()

	result := best.consultant
	return &result, nil
}

// betterThan orders candidates by score, then absolute load, then seniority,
// then lexicographic id. Fully deterministic, no randomness.
func (c *candidate) betterThan(other *candidate) bool {
	if c.score != other.score {
		return c.score < other.score
	}
	if c.load != other.load {
		return c.load < other.load
	}
	if !c.consultant.CreatedAt.Equal(other.consultant.CreatedAt) {
		return c.consultant.CreatedAt.Before(other.consultant.CreatedAt)
	}
	return c.consultant.ID < other.consultant.ID
}
