package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// newStoredChain creates a chain backed by a file store under a fresh
// temporary directory and returns both.
func newStoredChain(t *testing.T) (*Chain, *FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.json")
	store := NewFileStore(path)
	c, err := New(WithDifficulty(1), WithStore(store), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}
	return c, store, path
}

// TestFileStoreRoundTrip verifies that saving and reloading yields a block
// sequence equal field for field, including hash and seal counter, to the
// pre-save sequence.
func TestFileStoreRoundTrip(t *testing.T) {
	c, store, _ := newStoredChain(t)
	for i := 0; i < 2; i++ {
		if _, err := c.Append(votePayload("voter", "p1", "A")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error loading store: %v", err)
	}
	if !reflect.DeepEqual(loaded, c.All()) {
		t.Fatal("reloaded blocks differ from the in-memory chain")
	}
}

// TestChainReloadsFromStore verifies the load-or-create lifecycle: a second
// chain opened on the same store trusts the persisted blocks as-is and
// validates identically to the original.
func TestChainReloadsFromStore(t *testing.T) {
	c, store, _ := newStoredChain(t)
	for i := 0; i < 3; i++ {
		if _, err := c.Append(votePayload("voter", "p1", "A")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	latest, err := c.Latest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := New(WithDifficulty(1), WithStore(store), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to reopen chain: %v", err)
	}
	if reopened.Len() != c.Len() {
		t.Fatalf("expected %d blocks after reload, got %d", c.Len(), reopened.Len())
	}
	reopenedLatest, err := reopened.Latest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopenedLatest.Hash != latest.Hash {
		t.Fatal("latest hash should survive the reload unchanged")
	}
	if c.Valid() != reopened.Valid() {
		t.Fatal("validation must agree before and after the reload")
	}
}

// TestMissingStoreCreatesGenesis verifies that a chain opened on a missing
// file seals a genesis block and initializes the store immediately.
func TestMissingStoreCreatesGenesis(t *testing.T) {
	c, _, path := newStoredChain(t)

	if c.Len() != 1 {
		t.Fatalf("expected genesis-only chain, got %d blocks", c.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file should exist after initialization: %v", err)
	}
}

// TestCorruptStoreQuarantined verifies that an unparseable chain file
// degrades to a fresh genesis chain while the broken file is moved aside
// rather than silently destroyed.
func TestCorruptStoreQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	c, err := New(WithDifficulty(1), WithStore(NewFileStore(path)), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("expected recovery to a fresh chain, got error: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected genesis-only chain after recovery, got %d blocks", c.Len())
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt file should have been preserved: %v", err)
	}
}

// TestSaveLeavesNoTempFiles verifies that the write-temp-then-rename
// strategy cleans up after itself: after appends, the directory holds only
// the chain file.
func TestSaveLeavesNoTempFiles(t *testing.T) {
	c, _, path := newStoredChain(t)
	for i := 0; i < 2; i++ {
		if _, err := c.Append(votePayload("voter", "p1", "A")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("leftover temporary file: %s", e.Name())
		}
	}
}

// TestNonASCIIPreservedOnDisk verifies that the persisted document keeps
// non-ASCII payload content unescaped and human-readable.
func TestNonASCIIPreservedOnDisk(t *testing.T) {
	c, _, path := newStoredChain(t)
	if _, err := c.Append(votePayload("voter", "p1", "گزینه ۱")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), "گزینه ۱") {
		t.Fatal("non-ASCII payload content should be stored unescaped")
	}
}

// failingStore accepts the initial genesis save and fails every write after
// that, standing in for a full disk.
type failingStore struct {
	saves int
}

func (f *failingStore) Load() ([]Block, error) { return nil, os.ErrNotExist }

func (f *failingStore) Save(blocks []Block) error {
	f.saves++
	if f.saves > 1 {
		return errors.New("disk full")
	}
	return nil
}

// TestAppendRolledBackOnPersistFailure verifies the transactional append: a
// failed store write surfaces as an error and leaves the in-memory chain
// exactly as it was, so memory and disk never disagree about a committed
// vote.
func TestAppendRolledBackOnPersistFailure(t *testing.T) {
	c, err := New(WithDifficulty(1), WithStore(&failingStore{}), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	if _, err := c.Append(votePayload("voter", "p1", "A")); err == nil {
		t.Fatal("expected persistence error, got nil")
	}
	if c.Len() != 1 {
		t.Fatalf("failed append must not grow the chain, got %d blocks", c.Len())
	}
	if !c.Valid() {
		t.Fatal("chain should still validate after a failed append")
	}
}
