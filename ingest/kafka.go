// Package ingest consumes vote events from Kafka and records them on the
// ledger. It lets remote polling stations publish ballots to a topic instead
// of calling the HTTP API directly.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/theMahdiyarB/entekhablock/ledger"
	"github.com/theMahdiyarB/entekhablock/poll"
)

// Config groups the Kafka settings of the vote consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// VoteEvent is the wire form of a ballot published to the vote topic. The
// timestamp is optional; a missing one is filled in at ingestion time.
type VoteEvent struct {
	VoterFingerprint string `json:"voter_fingerprint"`
	PollID           string `json:"poll_id"`
	Choice           string `json:"choice"`
	Timestamp        string `json:"timestamp"`
}

func (e VoteEvent) validate() error {
	if strings.TrimSpace(e.VoterFingerprint) == "" {
		return errors.New("missing voter_fingerprint")
	}
	if strings.TrimSpace(e.PollID) == "" {
		return errors.New("missing poll_id")
	}
	if strings.TrimSpace(e.Choice) == "" {
		return errors.New("missing choice")
	}
	if e.Timestamp != "" {
		if _, err := time.Parse(ledger.TimeLayout, e.Timestamp); err != nil {
			return fmt.Errorf("bad timestamp %q: %w", e.Timestamp, err)
		}
	}
	return nil
}

// Consumer reads vote events from a topic and appends them to the chain.
type Consumer struct {
	reader fetcher
	chain  *ledger.Chain
	polls  *poll.Manager
	log    *slog.Logger
	now    func() time.Time
}

// fetcher is the slice of kafka.Reader the consumer depends on.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewConsumer(cfg Config, chain *ledger.Chain, polls *poll.Manager, log *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingest: no kafka brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("ingest: topic must not be empty")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "entekhablock-ledger"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader: reader,
		chain:  chain,
		polls:  polls,
		log:    log.With("topic", cfg.Topic),
		now:    time.Now,
	}, nil
}

// Run fetches and records events until ctx is cancelled. Malformed or
// ineligible events are logged, committed and skipped; a vote that fails to
// persist is not committed, so it is redelivered after the fault clears.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Error("close kafka reader", "err", err)
		}
	}()
	c.log.Info("vote consumer started")

	backoff := time.Second
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("vote consumer stopped")
				return
			}
			c.log.Error("fetch vote event", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.handle(msg.Value); err != nil {
			var skip *skipError
			if !errors.As(err, &skip) {
				c.log.Error("record vote event, will retry", "offset", msg.Offset, "err", err)
				continue
			}
			c.log.Warn("skipping vote event", "offset", msg.Offset, "err", skip.cause)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit offset", "offset", msg.Offset, "err", err)
		}
	}
}

// skipError marks an event that can never succeed and must be committed past
// rather than retried.
type skipError struct{ cause error }

func (e *skipError) Error() string { return e.cause.Error() }

func (c *Consumer) handle(raw []byte) error {
	var event VoteEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return &skipError{fmt.Errorf("decode vote event: %w", err)}
	}
	if err := event.validate(); err != nil {
		return &skipError{err}
	}

	if err := c.polls.RecordVote(event.PollID, event.VoterFingerprint, event.Choice); err != nil {
		// eligibility failures are final, storage failures are not
		if errors.Is(err, poll.ErrNotFound) || errors.Is(err, poll.ErrAlreadyVoted) ||
			errors.Is(err, poll.ErrInvalidChoice) || errors.Is(err, poll.ErrNotStarted) ||
			errors.Is(err, poll.ErrEnded) {
			return &skipError{err}
		}
		return err
	}

	ts := event.Timestamp
	if ts == "" {
		ts = c.now().Format(ledger.TimeLayout)
	}
	block, err := c.chain.Append(ledger.NewVotePayload(event.VoterFingerprint, event.PollID, event.Choice, ts))
	if err != nil {
		return fmt.Errorf("append vote block: %w", err)
	}
	c.log.Info("vote ingested", "poll_id", event.PollID, "position", block.Position)
	return nil
}
