package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// DefaultIDAttempts is how many random ids are tried before giving up.
const DefaultIDAttempts = 10

var deviceIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{2,6}$`)

// ValidDeviceID reports whether id is 2 to 6 hexadecimal characters.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// ExistsFunc reports whether a device id is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// IDGenerator hands out short random device ids that are not yet taken.
//
// The check and the later insert are not atomic. Two concurrent requests can
// draw the same free id; the loser fails on the primary key and gets
// ErrDeviceIDInUse from the store.
type IDGenerator struct {
	candidate func() (string, error)
	attempts  int
}

// NewIDGenerator creates a generator trying up to attempts candidates.
// Non-positive values use DefaultIDAttempts.
func NewIDGenerator(attempts int) *IDGenerator {
	if attempts <= 0 {
		attempts = DefaultIDAttempts
	}
	return &IDGenerator{candidate: randomCandidate, attempts: attempts}
}

// Generate returns the first candidate exists reports as free.
// Returns ErrIDSpaceExhausted when every attempt collides.
func (g *IDGenerator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for i := 0; i < g.attempts; i++ {
		id, err := g.candidate()
		if err != nil {
			return "", fmt.Errorf("drawing device id: %w", err)
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("checking device id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIDSpaceExhausted, g.attempts)
}

// randomCandidate draws four lowercase hex digits.
func randomCandidate() (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
