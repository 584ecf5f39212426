package store

import "fmt"

// StorageError reports a failed block transaction. Nothing of the block
// was persisted; the caller retries the whole block.
type StorageError struct {
	Op       string
	BlockNum int64
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("apply block %d: %s: %v", e.BlockNum, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
