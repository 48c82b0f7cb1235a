package indexer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/selectsense-mcp/internal/storage"
)

const notesDoc = `# Lab Notes

Each enzyme sample was heated for ten minutes before the assay was repeated.
`

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
}

func titles(t *testing.T, store storage.Storage) []string {
	t.Helper()
	docs, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Title
	}
	return out
}

func TestIndexPaths_ChangedFileKeepsID(t *testing.T) {
	idx, store := setupIndexer(t, newMockEmbedder(), nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "biology.md")
	writeFile(t, path, sampleDoc)
	_, err := idx.IndexPaths(ctx, []string{path})
	require.NoError(t, err)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	id := docs[0].ID

	writeFile(t, path, "# Molecular Biology\n\nProteins fold into shapes that decide what they can bind to.\n")
	stats, err := idx.IndexPaths(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsIndexed)

	docs, err = store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1, "re-ingest replaces rather than duplicates")
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "Molecular Biology", docs[0].Title)

	sections, err := store.ListSectionsByDocument(ctx, id)
	require.NoError(t, err)
	assert.Len(t, sections, 1)
}

func TestRemovePath(t *testing.T) {
	idx, store := setupIndexer(t, newMockEmbedder(), nil)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "biology.md"), sampleDoc)
	writeFile(t, filepath.Join(dir, "lab", "notes.md"), notesDoc)
	writeFile(t, filepath.Join(dir, "lab", "more.md"), "# More\n\nA second page of notes about the heating schedule for samples.\n")
	stats, err := idx.IndexPaths(ctx, []string{dir})
	require.NoError(t, err)
	require.Equal(t, 3, stats.DocumentsIndexed)

	n, err := idx.removePath(ctx, filepath.Join(dir, "biology.md"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.removePath(ctx, filepath.Join(dir, "lab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a removed directory takes its documents with it")
	assert.Empty(t, titles(t, store))

	version, err := store.CorpusVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.CorpusVersion+2, version)

	n, err = idx.removePath(ctx, filepath.Join(dir, "unknown.md"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClassifyEvent(t *testing.T) {
	dir := t.TempDir()
	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	outside := filepath.Join(t.TempDir(), "single.rst")
	writeFile(t, outside, "x")
	scope := &watchScope{watcher: watcher, files: make(map[string]bool)}
	require.NoError(t, scope.add(dir))
	require.NoError(t, scope.add(outside))

	writeFile(t, filepath.Join(dir, "doc.md"), "x")
	writeFile(t, filepath.Join(dir, "code.go"), "x")
	writeFile(t, filepath.Join(dir, ".draft.md"), "x")
	writeFile(t, filepath.Join(dir, "sub", "inner.txt"), "x")
	writeFile(t, filepath.Join(filepath.Dir(outside), "sibling.md"), "x")

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want map[string]changeKind
	}{
		{"create file", filepath.Join(dir, "doc.md"), fsnotify.Create, map[string]changeKind{filepath.Join(dir, "doc.md"): changeUpsert}},
		{"write file", filepath.Join(dir, "doc.md"), fsnotify.Write, map[string]changeKind{filepath.Join(dir, "doc.md"): changeUpsert}},
		{"remove file", filepath.Join(dir, "gone.md"), fsnotify.Remove, map[string]changeKind{filepath.Join(dir, "gone.md"): changeRemove}},
		{"rename file", filepath.Join(dir, "old.md"), fsnotify.Rename, map[string]changeKind{filepath.Join(dir, "old.md"): changeRemove}},
		{"chmod ignored", filepath.Join(dir, "doc.md"), fsnotify.Chmod, nil},
		{"unsupported extension", filepath.Join(dir, "code.go"), fsnotify.Write, nil},
		{"hidden file", filepath.Join(dir, ".draft.md"), fsnotify.Write, nil},
		{"new directory queues its files", filepath.Join(dir, "sub"), fsnotify.Create, map[string]changeKind{filepath.Join(dir, "sub", "inner.txt"): changeUpsert}},
		{"explicit file root", outside, fsnotify.Write, map[string]changeKind{outside: changeUpsert}},
		{"sibling of file root", filepath.Join(filepath.Dir(outside), "sibling.md"), fsnotify.Write, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scope.classify(fsnotify.Event{Name: tt.path, Op: tt.op})
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyChangesWaitsForLock(t *testing.T) {
	idx, store := setupIndexer(t, newMockEmbedder(), nil)
	path := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, path, notesDoc)
	pending := map[string]changeKind{path: changeUpsert}

	require.True(t, idx.lock.TryAcquire())
	assert.False(t, idx.applyChanges(context.Background(), pending))
	assert.Empty(t, titles(t, store))
	idx.lock.Release()

	assert.True(t, idx.applyChanges(context.Background(), pending))
	assert.Equal(t, []string{"Lab Notes"}, titles(t, store))
}

func TestWatch(t *testing.T) {
	idx, store := setupIndexer(t, newMockEmbedder(), nil)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "existing.md"), sampleDoc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Watch(ctx, []string{dir}, 20*time.Millisecond) }()

	has := func(want ...string) func() bool {
		slices.Sort(want)
		return func() bool {
			docs, err := store.ListDocuments(context.Background())
			if err != nil {
				return false
			}
			got := make([]string, len(docs))
			for i, d := range docs {
				got[i] = d.Title
			}
			slices.Sort(got)
			return slices.Equal(want, got)
		}
	}

	// the watcher only reports changes, so pre-existing files stay out
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, titles(t, store))

	notes := filepath.Join(dir, "notes.md")
	writeFile(t, notes, notesDoc)
	require.Eventually(t, has("Lab Notes"), 5*time.Second, pollInterval)

	writeFile(t, notes, "# Field Notes\n\nThe river samples were collected at dawn from three separate sites.\n")
	require.Eventually(t, has("Field Notes"), 5*time.Second, pollInterval)

	writeFile(t, filepath.Join(dir, "nested", "deep.md"), "# Deep\n\nNested directories are picked up as soon as they are created on disk.\n")
	require.Eventually(t, has("Field Notes", "Deep"), 5*time.Second, pollInterval)

	require.NoError(t, os.Remove(notes))
	require.Eventually(t, has("Deep"), 5*time.Second, pollInterval)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingPath(t *testing.T) {
	idx, _ := setupIndexer(t, newMockEmbedder(), nil)
	err := idx.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, 0)
	assert.Error(t, err)
}
