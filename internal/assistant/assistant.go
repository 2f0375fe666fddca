// Package assistant runs the question answering pipeline end to end:
// retrieve context, compose a prompt, generate SQL, gate it, execute it and
// record what happened.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/history"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/nl2sql"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/prompt"
	"github.com/sqlscribe/sqlscribe/internal/query"
	"github.com/sqlscribe/sqlscribe/internal/retrieval"
	"github.com/sqlscribe/sqlscribe/internal/sqlguard"
)

var ErrValidation = errors.New("assistant: invalid request")

type Retriever interface {
	Retrieve(ctx context.Context, p project.Project, query string) (retrieval.Result, error)
}

type Composer interface {
	Compose(ctx context.Context, in prompt.Input) prompt.Prompt
}

type Executor interface {
	Execute(ctx context.Context, stmt sqlguard.Statement) (query.Result, error)
}

type Indexer interface {
	Index(ctx context.Context, p project.Project, opts indexer.Options) (indexer.Summary, error)
}

type Question struct {
	ProjectName string
	Message     string
}

type Answer struct {
	ProjectName string      `json:"project_name"`
	SQL         string      `json:"sql"`
	Columns     []string    `json:"columns"`
	Rows        []query.Row `json:"response"`
	Truncated   bool        `json:"truncated"`
	Model       string      `json:"model,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
}

type Options struct {
	Retriever Retriever
	Composer  Composer
	Generator nl2sql.Generator
	Executor  Executor
	Indexer   Indexer
	History   history.Store

	DefaultProject   string
	RetrievalTimeout time.Duration
	IndexTimeout     time.Duration
	HistoryTimeout   time.Duration
	Logger           *slog.Logger
}

type Service struct {
	retriever Retriever
	composer  Composer
	generator nl2sql.Generator
	executor  Executor
	indexer   Indexer
	history   history.Store
	recorder  *history.Recorder

	defaultProject   string
	retrievalTimeout time.Duration
	indexTimeout     time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	store := opts.History
	if store == nil {
		store = history.Noop{}
	}
	defaultProject := strings.TrimSpace(opts.DefaultProject)
	if defaultProject == "" {
		defaultProject = project.DefaultName
	}
	return &Service{
		retriever:        opts.Retriever,
		composer:         opts.Composer,
		generator:        opts.Generator,
		executor:         opts.Executor,
		indexer:          opts.Indexer,
		history:          store,
		recorder:         history.NewRecorder(store, opts.HistoryTimeout, logger),
		defaultProject:   defaultProject,
		retrievalTimeout: opts.RetrievalTimeout,
		indexTimeout:     opts.IndexTimeout,
		logger:           logger,
		now:              time.Now,
	}
}

// DefaultProject is the project used when a caller names none.
func (s *Service) DefaultProject() string {
	return s.defaultProject
}

// Ask answers one question. A blank message fails with ErrValidation before
// anything else is touched. Every other outcome is recorded in history.
func (s *Service) Ask(ctx context.Context, q Question) (Answer, error) {
	if strings.TrimSpace(q.Message) == "" {
		observability.IncrementQuestions(outcomeFor(ErrValidation))
		return Answer{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	p, err := project.Resolve(q.ProjectName)
	if err != nil {
		observability.IncrementQuestions(outcomeFor(err))
		return Answer{}, err
	}

	start := s.now()
	entry := history.Entry{ProjectName: p.Name, UserQuery: q.Message}
	answer, err := s.ask(ctx, p, q.Message, &entry)
	answer.DurationMs = s.now().Sub(start).Milliseconds()

	entry.DurationMs = answer.DurationMs
	if err != nil {
		entry.Status = history.StatusFailed
		entry.ErrorCode = ErrorCode(err)
		entry.ErrorMessage = err.Error()
		s.logger.WarnContext(ctx, "question failed",
			slog.String("project", p.Name),
			slog.String("error_code", entry.ErrorCode),
			slog.String("error", err.Error()),
			observability.TraceAttr(ctx),
		)
	} else {
		entry.Status = history.StatusSucceeded
		s.logger.InfoContext(ctx, "question answered",
			slog.String("project", p.Name),
			slog.Int("rows", len(answer.Rows)),
			slog.Int64("duration_ms", answer.DurationMs),
			observability.TraceAttr(ctx),
		)
	}
	s.recorder.Record(ctx, entry)
	observability.IncrementQuestions(outcomeFor(err))
	return answer, err
}

func (s *Service) ask(ctx context.Context, p project.Project, message string, entry *history.Entry) (Answer, error) {
	if s.retriever == nil || s.composer == nil || s.generator == nil || s.executor == nil {
		return Answer{}, errors.New("question pipeline is not fully configured")
	}
	answer := Answer{ProjectName: p.Name}

	retrieveCtx, cancel := withOptionalTimeout(ctx, s.retrievalTimeout)
	fragments, err := s.retriever.Retrieve(retrieveCtx, p, message)
	cancel()
	if err != nil {
		return answer, err
	}

	composed := s.composer.Compose(ctx, prompt.Input{
		Query:         message,
		Schema:        retrieval.Texts(fragments.Schema),
		Relationships: retrieval.Texts(fragments.Relationships),
	})

	generation, err := s.generator.Generate(ctx, composed.Text)
	if err != nil {
		return answer, err
	}
	answer.Model = generation.Model
	answer.Provider = generation.Provider
	entry.ModelUsed = generation.Model
	entry.Provider = generation.Provider

	stmt, err := sqlguard.Prepare(generation.Text)
	if err != nil {
		entry.GeneratedSQL = sqlguard.ExtractSQL(generation.Text)
		if errors.Is(err, sqlguard.ErrUnsafeQuery) {
			observability.IncrementUnsafeQueryRejections()
		}
		return answer, err
	}
	answer.SQL = stmt.SQL()
	entry.GeneratedSQL = stmt.SQL()

	result, err := s.executor.Execute(ctx, stmt)
	if err != nil {
		return answer, err
	}
	answer.Columns = result.Columns
	answer.Rows = result.Rows
	answer.Truncated = result.Truncated

	encoded, err := json.Marshal(result.Rows)
	if err != nil {
		s.logger.WarnContext(ctx, "encode result for history failed", slog.String("error", err.Error()))
	} else {
		entry.ExecutionResult = encoded
	}
	return answer, nil
}

// Index (re)builds the store for projectName from the target catalog.
func (s *Service) Index(ctx context.Context, projectName string, opts indexer.Options) (indexer.Summary, error) {
	p, err := project.Resolve(projectName)
	if err != nil {
		return indexer.Summary{}, err
	}
	if s.indexer == nil {
		return indexer.Summary{}, errors.New("indexer is not configured")
	}
	indexCtx, cancel := withOptionalTimeout(ctx, s.indexTimeout)
	defer cancel()
	return s.indexer.Index(indexCtx, p, opts)
}

// History lists recorded exchanges, newest first. An empty project name
// lists every project.
func (s *Service) History(ctx context.Context, projectName string, limit int) ([]history.Entry, error) {
	if projectName != "" {
		if err := project.Validate(projectName); err != nil {
			return nil, err
		}
	}
	return s.history.List(ctx, projectName, history.NormalizeLimit(limit))
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
