// Package auth checks the shared token a client presents in its hello.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a hello token.
type Validator interface {
	Validate(token string) error
}

// Tokens accepts any token of a fixed set, so a server can roll to a new
// token while clients still present the old one.
type Tokens struct {
	set [][]byte
}

// NewTokens builds a set from the non-empty tokens given.
func NewTokens(tokens ...string) Tokens {
	var t Tokens
	for _, tok := range tokens {
		if tok != "" {
			t.set = append(t.set, []byte(tok))
		}
	}
	return t
}

func (t Tokens) Len() int { return len(t.set) }

// Validate compares token against every entry in constant time.
func (t Tokens) Validate(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	match := 0
	for _, want := range t.set {
		match |= subtle.ConstantTimeCompare(want, []byte(token))
	}
	if match != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// Open accepts every token. Servers use it when no token is configured.
type Open struct{}

func (Open) Validate(string) error { return nil }

// ForTokens returns a Tokens validator, or Open when every token is empty.
func ForTokens(tokens ...string) Validator {
	t := NewTokens(tokens...)
	if t.Len() == 0 {
		return Open{}
	}
	return t
}
