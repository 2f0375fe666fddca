package vectorstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/storage"
)

func TestOpenReadOnlyMissingStoreIsUnavailable(t *testing.T) {
	provider := newTestProvider(t, t.TempDir(), nil)
	_, err := provider.Open(context.Background(), mustProject(t, "never-indexed"), ReadOnly)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Open() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestWriteThenQuery(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	proj := mustProject(t, "shop")

	writeDocs(t, provider, proj, SchemaCollection, []Document{
		{ID: "a", Content: "orders id integer NO PRIMARY KEY"},
		{ID: "b", Content: "orders customer_id integer YES"},
		{ID: "c", Content: "invoices total numeric NO"},
	})

	store, err := provider.Open(ctx, proj, ReadOnly)
	if err != nil {
		t.Fatalf("Open(read) error = %v", err)
	}
	defer func() { _ = store.Close(ctx) }()

	info, err := store.GetCollection(ctx, SchemaCollection)
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if info.Count != 3 {
		t.Fatalf("Count = %d", info.Count)
	}

	matches, err := store.Query(ctx, SchemaCollection, "invoice totals", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len(matches) = %d, want clamp to collection size", len(matches))
	}
	if matches[0].ID != "c" {
		t.Fatalf("best match = %q, want c", matches[0].ID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Fatalf("matches not ordered by similarity: %+v", matches)
		}
	}

	if err := store.AddDocuments(ctx, SchemaCollection, []Document{{ID: "z", Content: "x"}}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("AddDocuments(read handle) error = %v, want ErrReadOnly", err)
	}
}

func TestQueryEmptyCollectionReturnsNoMatches(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	proj := mustProject(t, "empty")
	writeDocs(t, provider, proj, RelationshipCollection, nil)

	store, err := provider.Open(ctx, proj, ReadOnly)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close(ctx) }()

	matches, err := store.Query(ctx, RelationshipCollection, "anything", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("matches = %+v", matches)
	}
	if _, err := store.Query(ctx, SchemaCollection, "anything", 10); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Query(missing collection) error = %v, want ErrStoreUnavailable", err)
	}
}

func TestAddDocumentsUpsertsByID(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	proj := mustProject(t, "upsert")

	writeDocs(t, provider, proj, SchemaCollection, []Document{{ID: "same", Content: "users id integer"}})
	writeDocs(t, provider, proj, SchemaCollection, []Document{{ID: "same", Content: "users id integer"}})

	store, err := provider.Open(ctx, proj, ReadOnly)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close(ctx) }()
	info, err := store.GetCollection(ctx, SchemaCollection)
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if info.Count != 1 {
		t.Fatalf("Count = %d, want 1", info.Count)
	}
}

func TestProjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	alpha := mustProject(t, "alpha")
	beta := mustProject(t, "beta")

	writeDocs(t, provider, alpha, SchemaCollection, []Document{{ID: "alpha-1", Content: "patients id integer"}})
	writeDocs(t, provider, beta, SchemaCollection, []Document{{ID: "beta-1", Content: "patients id integer"}})

	store, err := provider.Open(ctx, alpha, ReadOnly)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = store.Close(ctx) }()
	matches, err := store.Query(ctx, SchemaCollection, "patients", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "alpha-1" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestDeleteCollectionAndList(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	proj := mustProject(t, "drop")

	store, err := provider.Open(ctx, proj, ReadWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, name := range []string{SchemaCollection, RelationshipCollection} {
		if err := store.CreateCollection(ctx, name); err != nil {
			t.Fatalf("CreateCollection(%s) error = %v", name, err)
		}
	}
	infos, err := store.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Name != RelationshipCollection {
		t.Fatalf("ListCollections() = %+v", infos)
	}
	if err := store.DeleteCollection(ctx, SchemaCollection); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
	if _, err := store.GetCollection(ctx, SchemaCollection); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("GetCollection() error = %v, want ErrCollectionNotFound", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := store.CreateCollection(ctx, SchemaCollection); !errors.Is(err, ErrClosed) {
		t.Fatalf("CreateCollection(after close) error = %v, want ErrClosed", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, t.TempDir(), nil)
	proj := mustProject(t, "busy")
	writeDocs(t, provider, proj, SchemaCollection, []Document{{ID: "1", Content: "users email text"}})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store, err := provider.Open(ctx, proj, ReadOnly)
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = store.Close(ctx) }()
			if _, err := store.Query(ctx, SchemaCollection, "email", 10); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent read error = %v", err)
	}
}

func TestArchiveRestoresStoreOnAnotherNode(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	archive, err := NewArchive(objects)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	proj := mustProject(t, "archived")

	writer := newTestProvider(t, t.TempDir(), archive)
	writeDocs(t, writer, proj, SchemaCollection, []Document{{ID: "1", Content: "shipments carrier text"}})
	if objects.puts != 1 {
		t.Fatalf("puts = %d, want 1", objects.puts)
	}

	reader := newTestProvider(t, t.TempDir(), archive)
	store, err := reader.Open(ctx, proj, ReadOnly)
	if err != nil {
		t.Fatalf("Open(restore) error = %v", err)
	}
	defer func() { _ = store.Close(ctx) }()
	matches, err := store.Query(ctx, SchemaCollection, "carrier", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "1" {
		t.Fatalf("matches = %+v", matches)
	}

	if _, err := reader.Open(ctx, mustProject(t, "not-archived"), ReadOnly); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Open(unarchived) error = %v, want ErrStoreUnavailable", err)
	}
}

func TestArchiveRejectsForeignNamespace(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	archive, err := NewArchive(objects)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "00000000.gob"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := archive.Save(ctx, src, "shop-aaaa"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	key, err := storage.BuildStoreArchiveKey("shop-aaaa")
	if err != nil {
		t.Fatal(err)
	}
	if got := objects.metadata[key]; got["format"] != archiveFormat || got["namespace"] != "shop-aaaa" {
		t.Fatalf("metadata = %v", got)
	}

	other, err := storage.BuildStoreArchiveKey("shop-bbbb")
	if err != nil {
		t.Fatal(err)
	}
	objects.objects[other] = objects.objects[key]
	objects.metadata[other] = objects.metadata[key]

	dst := filepath.Join(t.TempDir(), "store")
	if _, err := archive.Restore(ctx, "shop-bbbb", dst); !errors.Is(err, ErrArchiveMismatch) {
		t.Fatalf("Restore() error = %v, want ErrArchiveMismatch", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("store dir should not exist after a rejected restore: %v", err)
	}
}

func TestNewArchiveRequiresObjectStore(t *testing.T) {
	if _, err := NewArchive(nil); err == nil {
		t.Fatal("expected missing object store error")
	}
}

func newTestProvider(t *testing.T, root string, archive *Archive) *ChromemProvider {
	t.Helper()
	provider, err := NewChromemProvider(ChromemConfig{Root: root, Embed: HashEmbedding(256), Archive: archive})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	return provider
}

func mustProject(t *testing.T, name string) project.Project {
	t.Helper()
	p, err := project.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", name, err)
	}
	return p
}

func writeDocs(t *testing.T, provider Provider, p project.Project, collection string, docs []Document) {
	t.Helper()
	ctx := context.Background()
	store, err := provider.Open(ctx, p, ReadWrite)
	if err != nil {
		t.Fatalf("Open(write) error = %v", err)
	}
	if err := store.CreateCollection(ctx, collection); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := store.AddDocuments(ctx, collection, docs); err != nil {
		t.Fatalf("AddDocuments() error = %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

type memoryObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	puts     int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	m.puts++
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: opts.Metadata}, nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: m.metadata[key]}, nil
}
