package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// TimeLayout is the wall-clock format every block timestamp is emitted in.
const TimeLayout = "2006-01-02 15:04:05"

// Payload is the opaque vote data carried by a block. The ledger does not
// interpret it beyond hashing; by convention vote payloads carry
// voter_fingerprint, poll_id, choice and timestamp.
type Payload map[string]any

// Block represents a single sealed entry in the chain, linked to its
// predecessor by hash.
type Block struct {
	Position  int     `json:"position"`
	CreatedAt string  `json:"created_at"`
	Payload   Payload `json:"payload"`
	PrevHash  string  `json:"previous_hash"`
	Nonce     uint64  `json:"seal_counter"`
	Hash      string  `json:"hash"`
}

// NewVotePayload builds the conventional payload recorded for a single
// anonymized ballot.
func NewVotePayload(voterFingerprint, pollID, choice, timestamp string) Payload {
	return Payload{
		"voter_fingerprint": voterFingerprint,
		"poll_id":           pollID,
		"choice":            choice,
		"timestamp":         timestamp,
	}
}

// computeHash returns the SHA-256 hex digest of the block's hashed fields.
// The fields are serialized through RFC 8785 canonicalization so that the
// same logical content always hashes identically, no matter how the payload
// map was built or reloaded.
func (b Block) computeHash() (string, error) {
	doc := map[string]any{
		"position":      b.Position,
		"created_at":    b.CreatedAt,
		"payload":       b.Payload,
		"previous_hash": b.PrevHash,
		"seal_counter":  b.Nonce,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal block %d for hashing: %w", b.Position, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize block %d: %w", b.Position, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
