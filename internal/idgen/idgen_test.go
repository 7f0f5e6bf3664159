package idgen

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNumber_Format(t *testing.T) {
	g := New(1)
	n := g.Number(PrefixAccount, InstrumentDigits)
	if !strings.HasPrefix(n, PrefixAccount) {
		t.Fatalf("expected %s prefix, got %s", PrefixAccount, n)
	}
	if len(n) != len(PrefixAccount)+InstrumentDigits {
		t.Fatalf("unexpected length for %s", n)
	}
	for _, c := range n[len(PrefixAccount):] {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit %q in %s", c, n)
		}
	}
}

func TestNumber_SeededSequencesAreDeterministic(t *testing.T) {
	a, b := New(7), New(7)
	for i := 0; i < 10; i++ {
		na, nb := a.Number(PrefixTransaction, ReferenceDigits), b.Number(PrefixTransaction, ReferenceDigits)
		if na != nb {
			t.Fatalf("same seed diverged at %d: %s vs %s", i, na, nb)
		}
	}

	c := New(8)
	if a.Number(PrefixTransaction, ReferenceDigits) == c.Number(PrefixTransaction, ReferenceDigits) {
		t.Fatal("different seeds produced the same number")
	}
}

func TestUnique_RetriesOnCollision(t *testing.T) {
	g := New(3)
	collisions := 0
	exists := func(ctx context.Context, number string) (bool, error) {
		if collisions < 2 {
			collisions++
			return true, nil
		}
		return false, nil
	}

	n, err := g.Unique(context.Background(), PrefixApplication, ApplicationDigits, exists)
	if err != nil {
		t.Fatalf("Unique returned error: %v", err)
	}
	if n == "" || collisions != 2 {
		t.Fatalf("expected success after 2 collisions, got %q after %d", n, collisions)
	}
}

func TestUnique_ExhaustsAfterBoundedAttempts(t *testing.T) {
	g := New(3)
	attempts := 0
	exists := func(ctx context.Context, number string) (bool, error) {
		attempts++
		return true, nil
	}

	_, err := g.Unique(context.Background(), PrefixApplication, ApplicationDigits, exists)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if attempts != maxAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", maxAttempts, attempts)
	}
}

func TestUnique_PropagatesExistenceErrors(t *testing.T) {
	g := New(3)
	boom := errors.New("database down")
	_, err := g.Unique(context.Background(), PrefixAccount, InstrumentDigits, func(ctx context.Context, number string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped existence error, got %v", err)
	}
}

func TestIntn_SharesTheSeededStream(t *testing.T) {
	a, b := New(9), New(9)
	for i := 0; i < 5; i++ {
		if a.Intn(51) != b.Intn(51) {
			t.Fatalf("same seed diverged on Intn at %d", i)
		}
	}
}
