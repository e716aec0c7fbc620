package cyclegan_go

import (
	"io"
	"testing"

	"github.com/pkg/errors"
)

func countPairs(t *testing.T, a, b *DataLoader, policy PairingPolicy) int {
	pairs, err := NewPairedIterator(a, b, policy)
	if err != nil {
		t.Fatal(err)
	}
	defer pairs.Close()
	n := 0
	for {
		batchA, batchB, err := pairs.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if batchA == nil || batchB == nil {
			t.Fatalf("Pair #%d has nil batch", n)
		}
		n++
	}
	if n != pairs.Steps() {
		t.Errorf("Policy %s: Steps() is %d, but %d pairs yielded", policy, pairs.Steps(), n)
	}
	return n
}

func TestPairingPolicies(t *testing.T) {
	short, err := NewDataLoader(newIndexDataset(6), 2, true, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	long, err := NewDataLoader(newIndexDataset(10), 2, true, 1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n := countPairs(t, short, long, PairTruncate); n != 3 {
		t.Errorf("Truncate: expected 3 pairs, got %d", n)
	}
	if n := countPairs(t, short, long, PairCycle); n != 5 {
		t.Errorf("Cycle: expected 5 pairs, got %d", n)
	}
	if n := countPairs(t, long, short, PairCycle); n != 5 {
		t.Errorf("Cycle (swapped): expected 5 pairs, got %d", n)
	}
	if _, err := NewPairedIterator(short, long, PairStrict); !errors.Is(err, ErrDomainLengthMismatch) {
		t.Errorf("Strict: expected ErrDomainLengthMismatch, got %v", err)
	}

	same, err := NewDataLoader(newIndexDataset(7), 2, false, 1, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n := countPairs(t, short, same, PairStrict); n != 3 {
		t.Errorf("Strict: expected 3 pairs, got %d", n)
	}
}

func TestParsePairingPolicy(t *testing.T) {
	for _, p := range []PairingPolicy{PairTruncate, PairCycle, PairStrict} {
		parsed, err := ParsePairingPolicy(p.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != p {
			t.Errorf("Expected %s, got %s", p, parsed)
		}
	}
	if p, err := ParsePairingPolicy("CYCLE"); err != nil || p != PairCycle {
		t.Errorf("Expected case-insensitive parse, got %s (%v)", p, err)
	}
	if _, err := ParsePairingPolicy("zip"); err == nil {
		t.Errorf("Expected error for unknown policy")
	}
	var p PairingPolicy
	if err := p.UnmarshalText([]byte("strict")); err != nil || p != PairStrict {
		t.Errorf("Expected strict, got %s (%v)", p, err)
	}
}
