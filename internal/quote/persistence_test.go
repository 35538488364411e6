package quote

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")

	store := NewSnapshotStore(path, testLogger())
	store.Put(&QuoteRecord{
		Symbol:        "AAPL",
		CompanyName:   "Apple Inc.",
		CurrentPrice:  195.89,
		PreviousClose: 194.50,
		Volume:        52_000_000,
		LastUpdated:   time.Now().UTC(),
		Source:        SourceLive,
	})
	require.NoError(t, store.Save())

	reloaded := NewSnapshotStore(path, testLogger())
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Len())

	rec, ok := reloaded.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "Apple Inc.", rec.CompanyName)
	assert.Equal(t, 195.89, rec.CurrentPrice)
	assert.Equal(t, int64(52_000_000), rec.Volume)
}

func TestSnapshotLoadMissingFileIsCleanStart(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	require.NoError(t, store.Load())
	assert.Equal(t, 0, store.Len())
}

func TestSnapshotLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewSnapshotStore(path, testLogger())
	assert.Error(t, store.Load())
	assert.Equal(t, 0, store.Len())
}

func TestSnapshotGetReturnsCopy(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshot.json"), testLogger())
	store.Put(&QuoteRecord{Symbol: "AAPL", CurrentPrice: 150.0})

	first, ok := store.Get("AAPL")
	require.True(t, ok)
	first.CurrentPrice = 1.0

	second, ok := store.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 150.0, second.CurrentPrice, "mutating a returned record must not touch the store")
}

func TestSnapshotPutOverwrites(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshot.json"), testLogger())
	store.Put(&QuoteRecord{Symbol: "AAPL", CurrentPrice: 150.0})
	store.Put(&QuoteRecord{Symbol: "AAPL", CurrentPrice: 151.0})

	rec, ok := store.Get("aapl")
	require.True(t, ok)
	assert.Equal(t, 151.0, rec.CurrentPrice)
	assert.Equal(t, 1, store.Len())
}

func TestSnapshotSaveAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := NewSnapshotStore(path, testLogger())
	store.Put(&QuoteRecord{Symbol: "AAPL", CurrentPrice: 150.0})
	require.NoError(t, store.Save())

	store.Put(&QuoteRecord{Symbol: "MSFT", CurrentPrice: 429.85})
	require.NoError(t, store.Save())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")

	reloaded := NewSnapshotStore(path, testLogger())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
}
