// Package reindex periodically refreshes the vector stores of a fixed set of
// projects from the target database catalog.
package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/indexer"
)

const defaultInterval = 30 * time.Minute

type Indexer interface {
	Index(ctx context.Context, projectName string, opts indexer.Options) (indexer.Summary, error)
}

type Config struct {
	Interval time.Duration
	Projects []string
	Rebuild  bool
}

type Service struct {
	Indexer Indexer
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type CycleSummary struct {
	ProjectsScanned       int   `json:"projects_scanned"`
	ProjectsIndexed       int   `json:"projects_indexed"`
	SchemaFragments       int   `json:"schema_fragments"`
	RelationshipFragments int   `json:"relationship_fragments"`
	Failures              int   `json:"failures"`
	DurationMs            int64 `json:"duration_ms"`
}

// Run reindexes once immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if len(s.Config.Projects) == 0 {
		return fmt.Errorf("no projects configured for reindexing")
	}

	s.runCycle(ctx)
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	summary, err := s.RunOnce(ctx, "")
	if err != nil {
		if s.Logger != nil {
			s.Logger.ErrorContext(ctx, "reindex cycle failed", slog.Any("error", err), slog.Any("summary", summary))
		}
		return
	}
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "reindex cycle completed", slog.Any("summary", summary))
	}
}

// RunOnce reindexes projectName, or every configured project when it is
// empty. A failing project does not stop the others.
func (s *Service) RunOnce(ctx context.Context, projectName string) (CycleSummary, error) {
	s.ensureDefaults()
	if s.Indexer == nil {
		return CycleSummary{}, fmt.Errorf("indexer is required")
	}

	projects := s.Config.Projects
	if projectName != "" {
		projects = []string{projectName}
	}
	start := s.Clock()
	summary := CycleSummary{ProjectsScanned: len(projects)}
	failures := make([]string, 0)

	for _, name := range projects {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("project %s: %v", name, err))
			summary.Failures++
			continue
		}
		result, err := s.Indexer.Index(ctx, name, indexer.Options{Rebuild: s.Config.Rebuild})
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("project %s: %v", name, err))
			continue
		}
		summary.ProjectsIndexed++
		summary.SchemaFragments += result.SchemaFragments
		summary.RelationshipFragments += result.RelationshipFragments
	}
	summary.DurationMs = s.Clock().Sub(start).Milliseconds()

	if len(failures) > 0 {
		reindexProjectFailuresTotal.Add(float64(len(failures)))
		reindexRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("reindex encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	reindexRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.Interval <= 0 {
		s.Config.Interval = defaultInterval
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	projects := make([]string, 0, len(s.Config.Projects))
	seen := make(map[string]struct{}, len(s.Config.Projects))
	for _, name := range s.Config.Projects {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		projects = append(projects, name)
	}
	s.Config.Projects = projects
}
