package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDifficulty is the number of leading zero hex digits a sealed
	// hash must carry unless configured otherwise.
	DefaultDifficulty = 4

	// maxDifficulty bounds the synchronous proof-of-work search. At 7 the
	// expected search already runs to ~268M hash attempts.
	maxDifficulty = 7
)

var (
	// ErrEmptyChain is returned when a tail read is attempted on a chain
	// with no blocks. A correctly initialized chain always has a genesis
	// block, so hitting this is a programming error, not user input.
	ErrEmptyChain = errors.New("ledger: chain is empty")

	// ErrGenesisImmutable rejects tamper simulation against block 0.
	ErrGenesisImmutable = errors.New("ledger: genesis block cannot be tampered with")

	// ErrPositionOutOfRange rejects lookups and tamper simulation outside
	// the chain bounds.
	ErrPositionOutOfRange = errors.New("ledger: block position out of range")
)

// Chain is the append-only, hash-chained vote ledger. It exclusively owns
// the ordered block sequence: a single logical writer appends, and every
// mutation happens under the write half of the lock so two appends can never
// observe the same tail.
type Chain struct {
	mu         sync.RWMutex
	blocks     []Block
	difficulty int
	store      Store
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Chain before initialization.
type Option func(*Chain)

// WithDifficulty sets the required count of leading zero hex digits in every
// sealed hash. Values outside 1..7 are rejected by New.
func WithDifficulty(d int) Option {
	return func(c *Chain) { c.difficulty = d }
}

// WithStore attaches a durable backing store. Without one the chain is
// memory-only, which is intended for tests and demos.
func WithStore(s Store) Option {
	return func(c *Chain) { c.store = s }
}

// WithClock replaces the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithLogger sets the logger used for lifecycle and recovery events.
func WithLogger(log *slog.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// New creates a chain. If a backing store holds a previous chain it is
// loaded as-is: stored hashes are trusted provisionally and only re-checked
// when Verify is invoked. Otherwise a genesis block is sealed and, when a
// store is attached, persisted immediately.
//
// An unreadable or corrupt store degrades to a fresh genesis chain; the data
// loss is logged and the broken file is moved aside, never silently
// overwritten.
func New(opts ...Option) (*Chain, error) {
	c := &Chain{
		difficulty: DefaultDifficulty,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.difficulty < 1 || c.difficulty > maxDifficulty {
		return nil, fmt.Errorf("ledger: difficulty must be between 1 and %d, got %d", maxDifficulty, c.difficulty)
	}

	if c.store != nil {
		blocks, err := c.store.Load()
		switch {
		case err == nil && len(blocks) > 0:
			c.blocks = blocks
			c.log.Info("chain loaded from store", "blocks", len(blocks))
			return c, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			c.log.Error("chain store unreadable, reinitializing with fresh genesis (previous data lost)", "err", err)
			if q, ok := c.store.(quarantiner); ok {
				if qerr := q.Quarantine(); qerr != nil {
					c.log.Error("failed to move corrupt chain file aside", "err", qerr)
				}
			}
		}
	}

	if err := c.createGenesis(); err != nil {
		return nil, err
	}
	return c, nil
}

// genesisPayload is the fixed system-identification payload of block 0.
func genesisPayload() Payload {
	return Payload{
		"message": "انتخابِلاک - Genesis Block",
		"system":  "Entekhablock Voting Platform",
		"version": "1.0.0",
	}
}

func (c *Chain) createGenesis() error {
	genesis := Block{
		Position:  0,
		CreatedAt: c.now().Format(TimeLayout),
		Payload:   genesisPayload(),
		PrevHash:  "0",
	}
	if err := seal(&genesis, c.difficulty); err != nil {
		return fmt.Errorf("ledger: seal genesis block: %w", err)
	}
	c.blocks = []Block{genesis}
	if c.store != nil {
		if err := c.store.Save(c.blocks); err != nil {
			return fmt.Errorf("ledger: initialize store: %w", err)
		}
	}
	c.log.Info("genesis block sealed", "hash", genesis.Hash, "nonce", genesis.Nonce)
	return nil
}

// Append seals a new block carrying payload, links it to the current tail
// and durably stores it before returning. The candidate chain is persisted
// first and only committed to memory on success, so memory and disk cannot
// disagree about a committed vote. The returned block's position and hash
// are stable identifiers usable as a voter-facing receipt.
func (c *Chain) Append(payload Payload) (Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return Block{}, ErrEmptyChain
	}
	tail := c.blocks[len(c.blocks)-1]

	block := Block{
		Position:  tail.Position + 1,
		CreatedAt: c.now().Format(TimeLayout),
		Payload:   payload,
		PrevHash:  tail.Hash,
	}
	start := time.Now()
	if err := seal(&block, c.difficulty); err != nil {
		return Block{}, fmt.Errorf("ledger: seal block %d: %w", block.Position, err)
	}

	if c.store != nil {
		staged := make([]Block, len(c.blocks), len(c.blocks)+1)
		copy(staged, c.blocks)
		staged = append(staged, block)
		if err := c.store.Save(staged); err != nil {
			return Block{}, fmt.Errorf("ledger: persist block %d: %w", block.Position, err)
		}
	}
	c.blocks = append(c.blocks, block)

	c.log.Debug("block sealed and stored",
		"position", block.Position, "nonce", block.Nonce, "took", time.Since(start))
	return block, nil
}

// Verify re-derives the integrity of the entire chain and returns a
// descriptive error for the first broken block. Genesis is exempt from the
// linkage and difficulty checks but must exist with previous hash "0". The
// result is never cached; calling Verify repeatedly without mutation yields
// the same answer every time.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifyLocked()
}

// Valid reports whether the whole chain passes Verify. A broken chain is an
// expected, reportable outcome, not an exceptional one.
func (c *Chain) Valid() bool {
	return c.Verify() == nil
}

func (c *Chain) verifyLocked() error {
	if len(c.blocks) == 0 {
		return ErrEmptyChain
	}
	if c.blocks[0].PrevHash != "0" {
		return fmt.Errorf("ledger: genesis previous hash is %q, want \"0\"", c.blocks[0].PrevHash)
	}
	prefix := strings.Repeat("0", c.difficulty)
	for i := 1; i < len(c.blocks); i++ {
		current, previous := c.blocks[i], c.blocks[i-1]

		if current.Position != previous.Position+1 {
			return fmt.Errorf("ledger: block %d has position %d, want %d", i, current.Position, previous.Position+1)
		}
		recomputed, err := current.computeHash()
		if err != nil {
			return fmt.Errorf("ledger: recompute hash of block %d: %w", i, err)
		}
		if current.Hash != recomputed {
			return fmt.Errorf("ledger: block %d hash does not match its contents", i)
		}
		if !strings.HasPrefix(current.Hash, prefix) {
			return fmt.Errorf("ledger: block %d hash does not meet difficulty %d", i, c.difficulty)
		}
		if current.PrevHash != previous.Hash {
			return fmt.Errorf("ledger: block %d previous hash does not match block %d", i, i-1)
		}
	}
	return nil
}

// TamperReport is the before/after validity snapshot returned by Tamper.
type TamperReport struct {
	BeforeValid      bool `json:"before_valid"`
	AfterValid       bool `json:"after_valid"`
	TamperedPosition int  `json:"tampered_position"`
	IntegrityBroken  bool `json:"integrity_broken"`
}

// Tamper overwrites the payload of a non-genesis block WITHOUT resealing,
// deliberately desynchronizing the block from its own hash and its
// successor's linkage. It exists to make the tamper-evidence property
// observable. The mutation is destructive and irreversible: the only way
// back to a valid chain is truncation or rebuild. The change is in-memory
// only and is never persisted.
func (c *Chain) Tamper(position int, payload Payload) (TamperReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if position == 0 {
		return TamperReport{}, ErrGenesisImmutable
	}
	if position < 0 || position >= len(c.blocks) {
		return TamperReport{}, ErrPositionOutOfRange
	}

	before := c.verifyLocked() == nil
	c.blocks[position].Payload = payload
	after := c.verifyLocked() == nil

	c.log.Warn("tamper simulation executed", "position", position,
		"before_valid", before, "after_valid", after)
	return TamperReport{
		BeforeValid:      before,
		AfterValid:       after,
		TamperedPosition: position,
		IntegrityBroken:  before && !after,
	}, nil
}

// Latest returns the most recently sealed block.
func (c *Chain) Latest() (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return Block{}, ErrEmptyChain
	}
	return c.blocks[len(c.blocks)-1], nil
}

// ByPosition returns the block at the given position.
func (c *Chain) ByPosition(position int) (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if position < 0 || position >= len(c.blocks) {
		return Block{}, ErrPositionOutOfRange
	}
	return c.blocks[position], nil
}

// All returns a copy of the full block sequence.
func (c *Chain) All() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := make([]Block, len(c.blocks))
	copy(blocks, c.blocks)
	return blocks
}

// MatchingField returns every non-genesis block whose payload field key has
// the given value. Payload values are compared in their string form, so
// numeric fields match their decimal rendering. Used to fetch all votes cast
// in one poll.
func (c *Chain) MatchingField(key, value string) []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []Block
	for _, b := range c.blocks {
		if b.Position == 0 {
			continue
		}
		if v, ok := b.Payload[key]; ok && fmt.Sprintf("%v", v) == value {
			matched = append(matched, b)
		}
	}
	return matched
}

// Len returns the number of blocks in the chain, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Difficulty returns the configured proof-of-work difficulty.
func (c *Chain) Difficulty() int {
	return c.difficulty
}

// Summary holds headline statistics about the chain.
type Summary struct {
	TotalBlocks      int    `json:"total_blocks"`
	TotalVotes       int    `json:"total_votes"`
	IsValid          bool   `json:"is_valid"`
	LatestHash       string `json:"latest_block_hash"`
	GenesisTimestamp string `json:"genesis_timestamp"`
}

// Summary returns chain statistics. TotalVotes excludes the genesis block.
// IsValid is a full re-validation, not a cached flag.
func (c *Chain) Summary() (Summary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return Summary{}, ErrEmptyChain
	}
	return Summary{
		TotalBlocks:      len(c.blocks),
		TotalVotes:       len(c.blocks) - 1,
		IsValid:          c.verifyLocked() == nil,
		LatestHash:       c.blocks[len(c.blocks)-1].Hash,
		GenesisTimestamp: c.blocks[0].CreatedAt,
	}, nil
}
