package cyclegan_go

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// PairingPolicy Defines how batches of two domains with different number of batches are paired within an epoch
type PairingPolicy int

const (
	// PairTruncate Epoch stops when the shorter domain is exhausted
	PairTruncate = PairingPolicy(iota)
	// PairCycle Shorter domain starts new pass until the longer domain is exhausted
	PairCycle
	// PairStrict Domains must have the same number of batches
	PairStrict
)

var pairingNames = map[PairingPolicy]string{
	PairTruncate: "truncate",
	PairCycle:    "cycle",
	PairStrict:   "strict",
}

func (p PairingPolicy) String() string {
	if name, ok := pairingNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pairing(%d)", int(p))
}

// ParsePairingPolicy Parses one of 'truncate', 'cycle', 'strict'
func ParsePairingPolicy(s string) (PairingPolicy, error) {
	for p, name := range pairingNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return PairTruncate, fmt.Errorf("Unknown pairing policy '%s'", s)
}

// Set Implements flag.Value
func (p *PairingPolicy) Set(s string) error {
	parsed, err := ParsePairingPolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText Implements encoding.TextMarshaler
func (p PairingPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText Implements encoding.TextUnmarshaler
func (p *PairingPolicy) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// PairedIterator Yields (domain A, domain B) batch pairs of single epoch according to pairing policy
type PairedIterator struct {
	loaderA, loaderB *DataLoader
	itA, itB         *BatchIterator
	steps            int
	step             int
}

// NewPairedIterator Starts new epoch on both loaders
func NewPairedIterator(loaderA, loaderB *DataLoader, policy PairingPolicy) (*PairedIterator, error) {
	na, nb := loaderA.Batches(), loaderB.Batches()
	var steps int
	switch policy {
	case PairTruncate:
		steps = minInt(na, nb)
	case PairCycle:
		steps = maxInt(na, nb)
	case PairStrict:
		if na != nb {
			return nil, errors.Wrap(ErrDomainLengthMismatch, fmt.Sprintf("domain A has %d batches, domain B has %d batches", na, nb))
		}
		steps = na
	default:
		return nil, fmt.Errorf("Pairing policy '%s' is not handled", policy)
	}
	return &PairedIterator{
		loaderA: loaderA,
		loaderB: loaderB,
		itA:     loaderA.Iterate(),
		itB:     loaderB.Iterate(),
		steps:   steps,
	}, nil
}

// Steps Returns number of pairs in epoch
func (p *PairedIterator) Steps() int {
	return p.steps
}

// Next Returns next pair or io.EOF when epoch is over
func (p *PairedIterator) Next() (*Batch, *Batch, error) {
	if p.step >= p.steps {
		return nil, nil, io.EOF
	}
	a, err := nextRestarting(p.loaderA, &p.itA)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Domain A]")
	}
	b, err := nextRestarting(p.loaderB, &p.itB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Domain B]")
	}
	p.step++
	return a, b, nil
}

// Close Stops background loading of both domains
func (p *PairedIterator) Close() {
	p.itA.Close()
	p.itB.Close()
}

func nextRestarting(loader *DataLoader, it **BatchIterator) (*Batch, error) {
	batch, err := (*it).Next()
	if err == io.EOF {
		(*it).Close()
		*it = loader.Iterate()
		batch, err = (*it).Next()
	}
	return batch, err
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
