// Package poll provides poll bookkeeping around the ledger: definitions,
// voting windows, duplicate-vote guards and per-option tallies. The tallies
// are a convenience view; the chain remains the authoritative vote record.
package poll

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the second-precision format used for poll time windows.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrNotFound      = errors.New("poll: not found")
	ErrNotStarted    = errors.New("poll: voting has not started yet")
	ErrEnded         = errors.New("poll: voting has ended")
	ErrAlreadyVoted  = errors.New("poll: this voter has already voted in this poll")
	ErrInvalidChoice = errors.New("poll: choice is not one of the poll options")
)

// Poll is a single voting poll with its configuration and running tally.
// Voters is keyed by anonymized fingerprint; raw identity never appears
// here.
type Poll struct {
	ID          string          `json:"poll_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Options     []string        `json:"options"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	CreatedAt   string          `json:"created_at"`
	Votes       map[string]int  `json:"votes"`
	Voters      map[string]bool `json:"voters"`
}

// Status reports the poll's lifecycle phase at the given instant:
// "upcoming", "active" or "ended". Malformed time windows count as ended.
func (p *Poll) Status(now time.Time) string {
	start, err := time.ParseInLocation(TimeLayout, p.StartTime, now.Location())
	if err != nil {
		return "ended"
	}
	end, err := time.ParseInLocation(TimeLayout, p.EndTime, now.Location())
	if err != nil {
		return "ended"
	}
	switch {
	case now.Before(start):
		return "upcoming"
	case now.After(end):
		return "ended"
	default:
		return "active"
	}
}

// CanVote reports whether the fingerprint may cast a vote right now: the
// poll must be in its voting window and the fingerprint must not have voted
// before.
func (p *Poll) CanVote(fingerprint string, now time.Time) error {
	switch p.Status(now) {
	case "upcoming":
		return ErrNotStarted
	case "ended":
		return ErrEnded
	}
	if p.Voters[fingerprint] {
		return ErrAlreadyVoted
	}
	return nil
}

// recordVote updates the tally after all checks pass. Callers hold the
// manager lock.
func (p *Poll) recordVote(fingerprint, choice string, now time.Time) error {
	if err := p.CanVote(fingerprint, now); err != nil {
		return err
	}
	valid := false
	for _, option := range p.Options {
		if option == choice {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	p.Votes[choice]++
	p.Voters[fingerprint] = true
	return nil
}

// Results is the public per-poll tally.
type Results struct {
	PollID      string             `json:"poll_id"`
	Title       string             `json:"title"`
	Status      string             `json:"status"`
	TotalVotes  int                `json:"total_votes"`
	Votes       map[string]int     `json:"votes"`
	Percentages map[string]float64 `json:"percentages"`
	StartTime   string             `json:"start_time"`
	EndTime     string             `json:"end_time"`
}

// Results computes the tally with per-option percentages rounded to two
// decimals.
func (p *Poll) Results(now time.Time) Results {
	total := 0
	for _, count := range p.Votes {
		total += count
	}
	res := Results{
		PollID:      p.ID,
		Title:       p.Title,
		Status:      p.Status(now),
		TotalVotes:  total,
		Votes:       make(map[string]int, len(p.Options)),
		Percentages: make(map[string]float64, len(p.Options)),
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
	}
	for _, option := range p.Options {
		count := p.Votes[option]
		res.Votes[option] = count
		if total > 0 {
			res.Percentages[option] = float64(int(float64(count)/float64(total)*100*100+0.5)) / 100
		} else {
			res.Percentages[option] = 0
		}
	}
	return res
}

// clone returns a deep copy so callers never alias manager-owned state.
func (p *Poll) clone() *Poll {
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	cp.Votes = make(map[string]int, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	cp.Voters = make(map[string]bool, len(p.Voters))
	for k, v := range p.Voters {
		cp.Voters[k] = v
	}
	return &cp
}
