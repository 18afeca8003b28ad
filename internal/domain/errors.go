// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionTerminal indicates an operation on a session that has already
// reached Completed, Failed or Cancelled.
var ErrSessionTerminal = errors.New("session is terminal")

// ErrRetriesExhausted indicates the connection retry ceiling was reached
// without ever receiving a byte from the backend.
var ErrRetriesExhausted = errors.New("connection retries exhausted")
