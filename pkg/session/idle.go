package session

import (
	"io"
	"time"
)

// idleReader calls expire when a single Read blocks longer than timeout.
// expire must unblock the pending Read, e.g. by closing the body.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	expire  func()
}

func (r *idleReader) Read(p []byte) (int, error) {
	t := time.AfterFunc(r.timeout, r.expire)
	n, err := r.r.Read(p)
	t.Stop()
	return n, err
}
