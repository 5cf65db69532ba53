package chat

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is an in-memory Messenger that records every call. It backs the
// dry-run CLI mode and tests in other packages.
type Recorder struct {
	mu      sync.Mutex
	Posts   []Message
	Updates []Message

	PostErr   error
	UpdateErr error
}

func (r *Recorder) Post(_ context.Context, msg Message) (PostResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PostErr != nil {
		return PostResult{}, r.PostErr
	}
	r.Posts = append(r.Posts, msg)
	return PostResult{Channel: msg.Channel, TS: fmt.Sprintf("%d.000100", len(r.Posts))}, nil
}

func (r *Recorder) Update(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	r.Updates = append(r.Updates, msg)
	return nil
}

// PostCount returns the number of successful posts.
func (r *Recorder) PostCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Posts)
}
