// Package otp generates and compares the six-digit one-time codes mailed to
// account holders.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"math/big"
)

const (
	// Digits is the length of every generated code.
	Digits = 6

	minCode = 100000
	maxCode = 999999
)

var span = big.NewInt(maxCode - minCode + 1)

// Generate returns a uniformly random code in 100000..999999.
func Generate() (string, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom draws a code from r, which must be a cryptographic source in
// production.
func GenerateFrom(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("otp: nil random source")
	}
	n, err := rand.Int(r, span)
	if err != nil {
		return "", err
	}
	n.Add(n, big.NewInt(minCode))
	return n.String(), nil
}

// Equal compares a stored code with a supplied one in constant time. An
// empty stored code never matches.
func Equal(stored, supplied string) bool {
	if stored == "" || len(stored) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
