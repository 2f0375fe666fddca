package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/project"
)

type ChromemConfig struct {
	Root     string
	Compress bool
	Embed    EmbeddingFunc
	Archive  *Archive
	Logger   *slog.Logger
}

// ChromemProvider keeps each project's store in <Root>/<namespace>.
// Any number of readers or a single writer may hold a project at a time.
type ChromemProvider struct {
	root     string
	compress bool
	embed    chromem.EmbeddingFunc
	archive  *Archive
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("vector store root is required")
	}
	if cfg.Embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve vector store root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &ChromemProvider{
		root:     root,
		compress: cfg.Compress,
		embed:    chromem.EmbeddingFunc(cfg.Embed),
		archive:  cfg.Archive,
		logger:   logger,
		locks:    map[string]*sync.RWMutex{},
	}, nil
}

func (p *ChromemProvider) Root() string {
	return p.root
}

func (p *ChromemProvider) Open(ctx context.Context, proj project.Project, mode Mode) (Store, error) {
	if proj.Namespace == "" {
		return nil, fmt.Errorf("%w: project %q has no namespace", ErrStoreUnavailable, proj.Name)
	}
	dir := filepath.Join(p.root, proj.Namespace)
	if filepath.Dir(dir) != p.root {
		return nil, fmt.Errorf("%w: namespace %q escapes store root", ErrStoreUnavailable, proj.Namespace)
	}
	lock := p.lockFor(proj.Namespace)

	if mode == ReadOnly {
		if err := p.ensureLocal(ctx, proj, dir, lock); err != nil {
			return nil, err
		}
		lock.RLock()
		// A concurrent rebuild may have removed the directory in between.
		if !dirExists(dir) {
			lock.RUnlock()
			return nil, fmt.Errorf("%w: project %q has not been indexed", ErrStoreUnavailable, proj.Name)
		}
		db, err := chromem.NewPersistentDB(dir, p.compress)
		if err != nil {
			lock.RUnlock()
			return nil, fmt.Errorf("%w: open project %q: %v", ErrStoreUnavailable, proj.Name, err)
		}
		return &chromemStore{db: db, embed: p.embed, mode: mode, release: lock.RUnlock}, nil
	}

	lock.Lock()
	db, err := chromem.NewPersistentDB(dir, p.compress)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open project %q store: %w", proj.Name, err)
	}
	store := &chromemStore{db: db, embed: p.embed, mode: mode, release: lock.Unlock}
	if p.archive != nil {
		store.beforeRelease = func(ctx context.Context) error {
			return p.archive.Save(ctx, dir, proj.Namespace)
		}
	}
	return store, nil
}

// ensureLocal restores a missing store from the archive, if one is configured.
func (p *ChromemProvider) ensureLocal(ctx context.Context, proj project.Project, dir string, lock *sync.RWMutex) error {
	if dirExists(dir) {
		return nil
	}
	if p.archive == nil {
		return fmt.Errorf("%w: project %q has not been indexed", ErrStoreUnavailable, proj.Name)
	}

	lock.Lock()
	defer lock.Unlock()
	if dirExists(dir) {
		return nil
	}
	restored, err := p.archive.Restore(ctx, proj.Namespace, dir)
	if err != nil {
		return fmt.Errorf("%w: restore project %q: %v", ErrStoreUnavailable, proj.Name, err)
	}
	if !restored {
		return fmt.Errorf("%w: project %q has not been indexed", ErrStoreUnavailable, proj.Name)
	}
	p.logger.InfoContext(ctx, "restored project store from archive",
		slog.String("project", proj.Name),
		slog.String("namespace", proj.Namespace),
	)
	return nil
}

func (p *ChromemProvider) lockFor(namespace string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[namespace]
	if !ok {
		lock = &sync.RWMutex{}
		p.locks[namespace] = lock
	}
	return lock
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.IsDir()
}

type chromemStore struct {
	db            *chromem.DB
	embed         chromem.EmbeddingFunc
	mode          Mode
	release       func()
	beforeRelease func(context.Context) error

	closeOnce sync.Once
	closed    bool
}

func (s *chromemStore) CreateCollection(_ context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, s.embed); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	return nil
}

func (s *chromemStore) GetCollection(_ context.Context, name string) (CollectionInfo, error) {
	if s.closed {
		return CollectionInfo{}, ErrClosed
	}
	collection := s.db.GetCollection(name, s.embed)
	if collection == nil {
		return CollectionInfo{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return CollectionInfo{Name: name, Count: collection.Count()}, nil
}

func (s *chromemStore) ListCollections(_ context.Context) ([]CollectionInfo, error) {
	if s.closed {
		return nil, ErrClosed
	}
	collections := s.db.ListCollections()
	infos := make([]CollectionInfo, 0, len(collections))
	for name, collection := range collections {
		infos = append(infos, CollectionInfo{Name: name, Count: collection.Count()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *chromemStore) AddDocuments(ctx context.Context, name string, docs []Document) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	collection := s.db.GetCollection(name, s.embed)
	if collection == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	converted := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		converted = append(converted, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	if err := collection.AddDocuments(ctx, converted, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %q: %w", name, err)
	}
	return nil
}

func (s *chromemStore) Query(ctx context.Context, name, text string, topK int) ([]Match, error) {
	if s.closed {
		return nil, ErrClosed
	}
	collection := s.db.GetCollection(name, s.embed)
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	// chromem refuses nResults larger than the collection.
	count := collection.Count()
	if count == 0 || topK <= 0 {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}
	results, err := collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", name, err)
	}
	matches := make([]Match, 0, len(results))
	for _, result := range results {
		matches = append(matches, Match{
			ID:         result.ID,
			Content:    result.Content,
			Metadata:   result.Metadata,
			Similarity: result.Similarity,
		})
	}
	return matches, nil
}

func (s *chromemStore) DeleteCollection(_ context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	return nil
}

// Close archives a written store, when archiving is on, and releases the
// project lock. It is safe to call more than once.
func (s *chromemStore) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.beforeRelease != nil {
			err = s.beforeRelease(ctx)
		}
		s.closed = true
		s.release()
	})
	return err
}

func (s *chromemStore) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}
