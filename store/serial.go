package store

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	SerialPrefix      = "SN-"
	serialAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	serialLength      = 8
	MaxSerialAttempts = 16
)

// SerialGenerator produces prefixed random serial codes. Uniqueness is checked
// by the caller-supplied predicate; collisions are retried a bounded number of times.
type SerialGenerator struct {
	next func() (string, error)
}

func NewSerialGenerator() *SerialGenerator {
	return &SerialGenerator{next: func() (string, error) { return RandomSerialCode(rand.Reader) }}
}

// NewSerialGeneratorFrom uses next as the code source (without prefix).
func NewSerialGeneratorFrom(next func() string) *SerialGenerator {
	return &SerialGenerator{next: func() (string, error) { return next(), nil }}
}

func (g *SerialGenerator) Generate(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < MaxSerialAttempts; attempt++ {
		code, err := g.next()
		if err != nil {
			return "", fmt.Errorf("read serial entropy: %w", err)
		}
		serial := SerialPrefix + code
		if !taken(serial) {
			return serial, nil
		}
	}
	return "", ErrGenerationExhausted
}

// RandomSerialCode draws serialLength characters from the fixed alphabet.
// The alphabet has 32 symbols so a byte modulo 32 stays uniform.
func RandomSerialCode(r io.Reader) (string, error) {
	buf := make([]byte, serialLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = serialAlphabet[int(b)%len(serialAlphabet)]
	}
	return string(buf), nil
}
