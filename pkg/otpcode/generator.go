package otpcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// DefaultDigits is the code length used when none is configured
const DefaultDigits = 6

var ten = big.NewInt(10)

// Generator produces fixed-length numeric one-time codes
type Generator struct {
	digits int
}

// New creates a generator for codes of the given length
func New(digits int) *Generator {
	if digits <= 0 {
		digits = DefaultDigits
	}
	return &Generator{digits: digits}
}

// Digits returns the code length
func (g *Generator) Digits() int {
	return g.digits
}

// Generate returns a code drawn uniformly over the full digit range, leading zeros included.
// It panics if the system random source fails; run SelfCheck at startup to surface that early.
func (g *Generator) Generate() string {
	code, err := g.generate()
	if err != nil {
		panic(fmt.Sprintf("otpcode: random source unavailable: %v", err))
	}
	return code
}

// SelfCheck draws one code and reports a failing random source as an error
func (g *Generator) SelfCheck() error {
	_, err := g.generate()
	return err
}

func (g *Generator) generate() (string, error) {
	var b strings.Builder
	b.Grow(g.digits)
	for i := 0; i < g.digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
