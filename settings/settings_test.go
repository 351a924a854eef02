package settings

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/provisioning-agent/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Set("kiosk.id", "kiosk-42"))
	require.NoError(t, store.Set("modules.network", "completed"))
	require.NoError(t, store.Persist())

	assert.Equal(t, "kiosk-42", store.Get("kiosk.id", ""))
	assert.Equal(t, "completed", store.Get("modules.network", "pending"))
	assert.Equal(t, "pending", store.Get("modules.display", "pending"))

	// Simulated process restart: a fresh store over the same file sees the
	// persisted values.
	reloaded, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "kiosk-42", reloaded.Get("kiosk.id", ""))
	assert.Equal(t, "completed", reloaded.Get("modules.network", "pending"))
}

func TestFileStoreNestedPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Set("a.b.c", "deep"))
	assert.Equal(t, "deep", store.Get("a.b.c", ""))

	// Intermediate nodes are not leaf values.
	assert.Equal(t, "fallback", store.Get("a.b.c.d", "fallback"))

	// Overwriting a leaf with a subtree replaces it.
	require.NoError(t, store.Set("a.b.c.d", "deeper"))
	assert.Equal(t, "deeper", store.Get("a.b.c.d", ""))
}

func TestFileStoreConcurrentPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set("kiosk.id", "kiosk-42"))

	// Two modules finishing installs at the same time both persist their
	// transition; neither write may fail or clobber the other's temp file.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := store.Persist(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent persist failed: %v", err)
	}

	reloaded, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "kiosk-42", reloaded.Get("kiosk.id", ""))
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	store, err := NewBoltStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Set("modules.base-system", "completed"))
	require.NoError(t, store.Set("kiosk.id", "kiosk-7"))
	require.NoError(t, store.Persist())
	assert.Equal(t, "completed", store.Get("modules.base-system", "pending"))
	require.NoError(t, store.Close())

	reloaded, err := NewBoltStore(path, testLogger())
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, "completed", reloaded.Get("modules.base-system", "pending"))
	assert.Equal(t, "kiosk-7", reloaded.Get("kiosk.id", ""))
	assert.Equal(t, "pending", reloaded.Get("modules.display", "pending"))
}

func TestNewFromURI(t *testing.T) {
	dir := t.TempDir()

	fileStore, err := NewFromURI("file://"+filepath.Join(dir, "s.json"), testLogger())
	require.NoError(t, err)
	require.NoError(t, fileStore.Set("k", "v"))
	assert.Equal(t, "v", fileStore.Get("k", ""))

	boltStore, err := NewFromURI("bolt://"+filepath.Join(dir, "s.db"), testLogger())
	require.NoError(t, err)
	require.NoError(t, boltStore.Set("k", "v"))
	assert.Equal(t, "v", boltStore.Get("k", ""))

	_, err = NewFromURI("vault://example.com/secret", testLogger())
	require.ErrorIs(t, err, interfaces.ErrInvalidStoreURI)

	_, err = NewFromURI("file://", testLogger())
	require.ErrorIs(t, err, interfaces.ErrInvalidStoreURI)
}
