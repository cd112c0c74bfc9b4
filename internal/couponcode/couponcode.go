// Package couponcode generates random coupon codes that do not collide with
// codes already registered with the generator.
package couponcode

import (
	"crypto/rand"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// Alphabet omits characters that are easy to misread (0/O, 1/I).
// Its length divides 256 so byte sampling is unbiased.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	maxAttempts       = 100
	falsePositiveRate = 0.001
)

// ErrExhausted is returned when no unused code could be found.
var ErrExhausted = errors.New("no unused coupon code available")

// Generator produces codes of the form prefix + length random characters.
//
// Uniqueness is tracked with a bloom filter: a false positive only costs a
// retry, and there are no false negatives, so an issued code is never
// issued twice by the same generator.
type Generator struct {
	prefix string
	length int

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// New creates a Generator sized for roughly expected codes.
func New(prefix string, length int, expected uint) (*Generator, error) {
	if length < 1 || length > 32 {
		return nil, errors.Errorf("code length %d out of range [1, 32]", length)
	}
	if expected == 0 {
		expected = 1024
	}
	return &Generator{
		prefix: prefix,
		length: length,
		seen:   bloom.NewWithEstimates(expected, falsePositiveRate),
	}, nil
}

// Seen registers existing codes so they are never generated.
func (g *Generator) Seen(codes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range codes {
		g.seen.AddString(c)
	}
}

// Next returns a code not registered or issued before.
func (g *Generator) Next() (string, error) {
	buf := make([]byte, g.length)

	g.mu.Lock()
	defer g.mu.Unlock()
	for range maxAttempts {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for i, b := range buf {
			buf[i] = Alphabet[int(b)%len(Alphabet)]
		}
		code := g.prefix + string(buf)
		if !g.seen.TestAndAddString(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// Batch returns n fresh codes.
func (g *Generator) Batch(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for range n {
		c, err := g.Next()
		if err != nil {
			return codes, err
		}
		codes = append(codes, c)
	}
	return codes, nil
}
