package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error that stops or skips work in the engine.
//
// Runtime errors include:
//   - Storage failure: a block could not be applied within the retry policy
//   - Subscribe failure: the validator refused or never answered
//   - Feed failure: the event stream broke
//   - Malformed batch: a block-commit event could not be parsed
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// BlockNum is the affected block, or -1.
	BlockNum int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStorageFailed means a block could not be applied.
	ErrCodeStorageFailed RuntimeErrorCode = "STORAGE_FAILED"

	// ErrCodeSubscribeFailed means the subscription could not be set up.
	ErrCodeSubscribeFailed RuntimeErrorCode = "SUBSCRIBE_FAILED"

	// ErrCodeFeedFailed means receiving from the validator failed.
	ErrCodeFeedFailed RuntimeErrorCode = "FEED_FAILED"

	// ErrCodeMalformedBatch means a batch could not be parsed.
	ErrCodeMalformedBatch RuntimeErrorCode = "MALFORMED_BATCH"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.BlockNum >= 0 {
		return fmt.Sprintf("%s: %s (block=%d)", e.Code, msg, e.BlockNum)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewStorageError creates a RuntimeError for a block that could not be
// applied.
func NewStorageError(blockNum int64, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeStorageFailed,
		Message:  fmt.Sprintf("apply block: %v", err),
		BlockNum: blockNum,
		Err:      err,
	}
}

// NewMalformedBatchError creates a RuntimeError for an unparseable batch.
func NewMalformedBatchError(err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeMalformedBatch,
		Message:  err.Error(),
		BlockNum: -1,
		Err:      err,
	}
}
