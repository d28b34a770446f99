package ledger

import "strings"

// seal performs the proof-of-work search: starting from nonce 0 it recomputes
// the block hash until the hash carries difficulty leading '0' hex digits,
// then fixes hash and nonce on the block. The search mutates the block in
// place and does no I/O. Expected cost is ~16^difficulty attempts, which is
// why difficulty is bounded at construction time.
func seal(b *Block, difficulty int) error {
	prefix := strings.Repeat("0", difficulty)
	b.Nonce = 0
	for {
		hash, err := b.computeHash()
		if err != nil {
			return err
		}
		if strings.HasPrefix(hash, prefix) {
			b.Hash = hash
			return nil
		}
		b.Nonce++
	}
}
