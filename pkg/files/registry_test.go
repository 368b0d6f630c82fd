package files

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, maxFiles int, ttl time.Duration) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewRegistry(maxFiles, ttl, zaptest.NewLogger(t), WithClock(clock.Now)), clock
}

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	return path
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)
	path := writeTempFile(t, "sales.duckdb")

	id, err := r.Register("sales.duckdb", path, Metadata{
		Columns:   []string{"region", "amount"},
		TableName: "sales",
		AllTables: []string{"sales"},
		FileSize:  4,
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000_sales.duckdb", id)

	byID, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, path, byID.Path)
	assert.Equal(t, "sales", byID.Metadata.TableName)

	byName, ok := r.Get("SALES.DUCKDB")
	require.True(t, ok, "filename lookup should be case-insensitive")
	assert.Equal(t, id, byName.ID)

	_, ok = r.Get("unknown.duckdb")
	assert.False(t, ok)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)

	id1, err := r.Register("a.duckdb", writeTempFile(t, "a.duckdb"), Metadata{})
	require.NoError(t, err)
	id2, err := r.Register("a.duckdb", writeTempFile(t, "a.duckdb"), Metadata{})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_FilenameResolvesToNewestUpload(t *testing.T) {
	r, clock := newTestRegistry(t, 10, time.Hour)

	oldPath := writeTempFile(t, "old.duckdb")
	oldID, err := r.Register("sales.duckdb", oldPath, Metadata{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	newPath := writeTempFile(t, "new.duckdb")
	newID, err := r.Register("sales.duckdb", newPath, Metadata{})
	require.NoError(t, err)
	// Same second as the previous upload.
	sameSecondPath := writeTempFile(t, "same.duckdb")
	sameSecondID, err := r.Register("sales.duckdb", sameSecondPath, Metadata{})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		e, ok := r.Get("sales.duckdb")
		require.True(t, ok)
		require.Equal(t, sameSecondID, e.ID)
	}

	require.True(t, r.Remove("Sales.DuckDB"))
	_, statErr := os.Stat(sameSecondPath)
	assert.True(t, os.IsNotExist(statErr))

	e, ok := r.Get("sales.duckdb")
	require.True(t, ok)
	assert.Equal(t, newID, e.ID)

	_, ok = r.Get(oldID)
	assert.True(t, ok, "older upload stays reachable by id")
	_, statErr = os.Stat(newPath)
	assert.NoError(t, statErr)
}

func TestRegistry_EvictsOldestAndDeletesFile(t *testing.T) {
	r, clock := newTestRegistry(t, 2, time.Hour)

	firstPath := writeTempFile(t, "first.duckdb")
	_, err := r.Register("first.duckdb", firstPath, Metadata{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = r.Register("second.duckdb", writeTempFile(t, "second.duckdb"), Metadata{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = r.Register("third.duckdb", writeTempFile(t, "third.duckdb"), Metadata{})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("first.duckdb")
	assert.False(t, ok)
	_, statErr := os.Stat(firstPath)
	assert.True(t, os.IsNotExist(statErr), "evicted file should be deleted from disk")
}

func TestRegistry_ExpiresIdleEntries(t *testing.T) {
	r, clock := newTestRegistry(t, 10, time.Hour)
	path := writeTempFile(t, "idle.duckdb")

	_, err := r.Register("idle.duckdb", path, Metadata{})
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, ok := r.Get("idle.duckdb")
	require.True(t, ok)

	clock.Advance(59 * time.Minute)
	assert.Len(t, r.List(), 1, "Get should have refreshed last access")

	clock.Advance(61 * time.Minute)
	assert.Empty(t, r.List())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r, clock := newTestRegistry(t, 10, time.Hour)

	for _, name := range []string{"a.duckdb", "b.duckdb", "c.duckdb"} {
		_, err := r.Register(name, writeTempFile(t, name), Metadata{})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	list := r.List()
	require.Len(t, list, 3)
	names := []string{list[0].Filename, list[1].Filename, list[2].Filename}
	assert.Equal(t, "c.duckdb,b.duckdb,a.duckdb", strings.Join(names, ","))
}

func TestRegistry_RemoveDeletesFile(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)
	path := writeTempFile(t, "gone.duckdb")

	_, err := r.Register("gone.duckdb", path, Metadata{})
	require.NoError(t, err)

	assert.True(t, r.Remove("Gone.duckdb"))
	assert.False(t, r.Remove("gone.duckdb"))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegistry_RemoveToleratesMissingFile(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)

	_, err := r.Register("ghost.duckdb", filepath.Join(t.TempDir(), "ghost.duckdb"), Metadata{})
	require.NoError(t, err)

	assert.True(t, r.Remove("ghost.duckdb"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)
	p1 := writeTempFile(t, "one.duckdb")
	p2 := writeTempFile(t, "two.duckdb")

	_, err := r.Register("one.duckdb", p1, Metadata{})
	require.NoError(t, err)
	_, err = r.Register("two.duckdb", p2, Metadata{})
	require.NoError(t, err)

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	for _, p := range []string{p1, p2} {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr))
	}
}

func TestRegistry_RegisterRequiresFields(t *testing.T) {
	r, _ := newTestRegistry(t, 10, time.Hour)
	_, err := r.Register("", "/tmp/x", Metadata{})
	assert.Error(t, err)
}
