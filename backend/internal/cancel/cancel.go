// Package cancel implements the cooperative cancellation token shared
// between a session supervisor and the adapter running its current turn.
package cancel

import "sync/atomic"

// Token is a shared, cloneable cancellation flag. The zero value is a valid,
// non-cancelled token. Copies of a Token (passing it by value) observe the
// same underlying flag; New creates a fresh, independent flag.
type Token struct {
	flag *atomic.Bool
}

// New returns a fresh token that is not cancelled. Each turn must create a
// new Token — cancelling one turn must never affect a later turn on the
// same session.
func New() Token {
	return Token{flag: new(atomic.Bool)}
}

// Cancel sets the flag. Idempotent.
func (t Token) Cancel() {
	if t.flag != nil {
		t.flag.Store(true)
	}
}

// IsCancelled reports whether Cancel has been called on this token or any
// of its copies.
func (t Token) IsCancelled() bool {
	return t.flag != nil && t.flag.Load()
}
