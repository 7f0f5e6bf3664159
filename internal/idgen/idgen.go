/**
 * @description
 * This package generates the external `{prefix}{digits}` numbers used for
 * instruments, applications and transaction references. The randomness source
 * is an explicit, seedable *rand.Rand so number sequences are deterministic
 * under test, and uniqueness is verified against the store with a bounded
 * retry instead of silently reusing a colliding number.
 */

package idgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Number prefixes per entity, paired with the digit counts below.
const (
	PrefixAccount     = "AC"
	PrefixCreditCard  = "CC"
	PrefixGiftCard    = "GC"
	PrefixLoan        = "LN"
	PrefixApplication = "AP"
	PrefixTransaction = "TX"
)

const (
	InstrumentDigits  = 12
	ApplicationDigits = 10
	ReferenceDigits   = 12
)

// maxAttempts bounds the collision retry loop in Unique.
const maxAttempts = 5

// ErrExhausted is returned when maxAttempts candidates all collided.
var ErrExhausted = errors.New("identifier generation exhausted retries")

// ExistsFunc reports whether a candidate number is already taken.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Generator produces prefixed digit-string numbers from a seeded source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded with the given value. Production callers
// seed from the clock; tests pass a fixed seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Number returns one candidate `{prefix}{digits}` identifier.
func (g *Generator) Number(prefix string, digits int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder
	sb.Grow(len(prefix) + digits)
	sb.WriteString(prefix)
	for i := 0; i < digits; i++ {
		fmt.Fprintf(&sb, "%d", g.rng.Intn(10))
	}
	return sb.String()
}

// Unique returns a number verified free against the store, retrying on
// collision up to maxAttempts before giving up with ErrExhausted.
func (g *Generator) Unique(ctx context.Context, prefix string, digits int, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := g.Number(prefix, digits)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("existence check failed: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// Intn exposes the underlying source so the score perturbation can share one
// seeded stream with number generation.
func (g *Generator) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}
