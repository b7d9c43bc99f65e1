// Package health aggregates reachability of the pipeline's collaborators.
package health

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker reports whether a collaborator is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Status values reported per component and overall.
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailing  = "unavailable"
)

// Component is one collaborator under check. A critical component being
// down makes the whole service unavailable.
type Component struct {
	Name     string
	Critical bool
	Checker  Checker
}

// ComponentStatus is the outcome of one check.
type ComponentStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Report is the aggregated health.
type Report struct {
	Status     string                     `json:"status"`
	CheckedAt  time.Time                  `json:"checkedAt"`
	Components map[string]ComponentStatus `json:"components"`
}

// Healthy reports whether every critical component is up.
func (r Report) Healthy() bool {
	return r.Status != StatusFailing
}

// Service runs all checks concurrently.
type Service struct {
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
}

func NewService(timeout time.Duration, logger *slog.Logger, components ...Component) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	var kept []Component
	for _, c := range components {
		if c.Checker != nil {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	return &Service{components: kept, timeout: timeout, logger: logger}
}

// Check waits for every component, bounded by the service timeout.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	statuses := make([]ComponentStatus, len(s.components))
	var g errgroup.Group
	for i, c := range s.components {
		g.Go(func() error {
			start := time.Now()
			err := c.Checker.Health(ctx)
			st := ComponentStatus{Status: StatusUp, Critical: c.Critical, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = StatusDown
				st.Error = err.Error()
				s.logger.WarnContext(ctx, "health check failed", "component", c.Name, "error", err)
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusOK, CheckedAt: time.Now().UTC(), Components: make(map[string]ComponentStatus, len(statuses))}
	for i, c := range s.components {
		st := statuses[i]
		report.Components[c.Name] = st
		if st.Status == StatusUp {
			continue
		}
		if c.Critical {
			report.Status = StatusFailing
		} else if report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	return report
}
