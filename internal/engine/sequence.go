package engine

import "sync/atomic"

// sequence numbers received batches in arrival order, starting at 1.
// It lives only in memory; block numbers order the projection.
type sequence struct {
	n atomic.Int64
}

func (s *sequence) next() int64 {
	return s.n.Add(1)
}

func (s *sequence) last() int64 {
	return s.n.Load()
}
