package poll

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the set of polls and their JSON-file persistence. Mutations
// are serialized behind one lock and written back before they are visible,
// mirroring the ledger's memory-matches-disk rule.
type Manager struct {
	mu    sync.RWMutex
	path  string
	polls map[string]*Poll
	now   func() time.Time
	log   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager loads polls from the JSON file at path, or starts empty when
// the file does not exist. An empty path keeps the manager memory-only.
func NewManager(path string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		path:  path,
		polls: make(map[string]*Poll),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll: read store: %w", err)
	}
	var stored map[string]*Poll
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("poll: parse store %s: %w", path, err)
	}
	for id, p := range stored {
		if p.Votes == nil {
			p.Votes = make(map[string]int)
		}
		if p.Voters == nil {
			p.Voters = make(map[string]bool)
		}
		m.polls[id] = p
	}
	m.log.Info("polls loaded", "path", path, "polls", len(m.polls))
	return m, nil
}

// Create registers a new poll with a generated ID and an initialized tally.
func (m *Manager) Create(title, description string, options []string, startTime, endTime string) (*Poll, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("poll: title is required")
	}
	if len(options) < 2 {
		return nil, errors.New("poll: at least two options are required")
	}
	if _, err := time.Parse(TimeLayout, startTime); err != nil {
		return nil, fmt.Errorf("poll: invalid start time: %w", err)
	}
	if _, err := time.Parse(TimeLayout, endTime); err != nil {
		return nil, fmt.Errorf("poll: invalid end time: %w", err)
	}

	p := &Poll{
		ID:          "poll_" + uuid.NewString()[:8],
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Options:     append([]string(nil), options...),
		StartTime:   startTime,
		EndTime:     endTime,
		CreatedAt:   m.now().Format(TimeLayout),
		Votes:       make(map[string]int),
		Voters:      make(map[string]bool),
	}
	for _, option := range p.Options {
		p.Votes[option] = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[p.ID] = p
	if err := m.saveLocked(); err != nil {
		delete(m.polls, p.ID)
		return nil, err
	}
	m.log.Info("poll created", "poll_id", p.ID, "title", p.Title)
	return p.clone(), nil
}

// Get returns a copy of the poll with the given ID.
func (m *Manager) Get(id string) (*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

// List returns copies of all polls, newest first.
func (m *Manager) List() []*Poll {
	m.mu.RLock()
	defer m.mu.RUnlock()

	polls := make([]*Poll, 0, len(m.polls))
	for _, p := range m.polls {
		polls = append(polls, p.clone())
	}
	sort.Slice(polls, func(i, j int) bool {
		if polls[i].CreatedAt != polls[j].CreatedAt {
			return polls[i].CreatedAt > polls[j].CreatedAt
		}
		return polls[i].ID < polls[j].ID
	})
	return polls
}

// Delete removes a poll. The votes already sealed in the chain remain; only
// the bookkeeping goes away.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.polls[id]; !ok {
		return ErrNotFound
	}
	delete(m.polls, id)
	return m.saveLocked()
}

// RecordVote checks eligibility and records one vote for the fingerprint.
// The updated tally is persisted before the call returns.
func (m *Manager) RecordVote(pollID, fingerprint, choice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.polls[pollID]
	if !ok {
		return ErrNotFound
	}
	if err := p.recordVote(fingerprint, choice, m.now()); err != nil {
		return err
	}
	if err := m.saveLocked(); err != nil {
		p.Votes[choice]--
		delete(p.Voters, fingerprint)
		return err
	}
	return nil
}

// Results returns the tally for one poll.
func (m *Manager) Results(pollID string) (Results, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.polls[pollID]
	if !ok {
		return Results{}, ErrNotFound
	}
	return p.Results(m.now()), nil
}

func (m *Manager) saveLocked() error {
	if m.path == "" {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m.polls); err != nil {
		return fmt.Errorf("poll: encode store: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("poll: create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("poll: create temporary store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("poll: write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("poll: flush store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("poll: close store: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("poll: replace store: %w", err)
	}
	return nil
}
