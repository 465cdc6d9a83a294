package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnection           = errors.New("connection failure")
	ErrAuth                 = errors.New("authentication rejected")
	ErrParse                = errors.New("malformed message")
	ErrClassification       = errors.New("classification failed")
	ErrGeneration           = errors.New("response generation failed")
	ErrDispatch             = errors.New("dispatch failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrCredentialsExhausted = errors.New("all credentials exhausted")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflicting state")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
