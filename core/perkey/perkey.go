// Package perkey provides a scheduler that serializes work per key while
// work for different keys executes concurrently.
//
// Typical use-case: event-sourced streams, where commands against one
// aggregate must run sequentially but unrelated aggregates should proceed in
// parallel.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

// Scheduler runs tasks such that for any given key, tasks execute
// sequentially in submission order. Tasks for different keys run in
// parallel.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	tails  map[K]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{tails: make(map[K]chan struct{})}
}

// Do runs fn for key, blocking until fn finishes, and returns its error.
// Calls for the same key never overlap.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but gives up waiting for its turn when ctx is done.
// Once fn has started it always runs to completion.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	prev := s.tails[key]
	turn := make(chan struct{})
	s.tails[key] = turn
	s.wg.Add(1)
	s.mu.Unlock()

	release := func() {
		close(turn)
		s.mu.Lock()
		// Remove the chain tail if nobody queued behind us.
		if s.tails[key] == turn {
			delete(s.tails, key)
		}
		s.mu.Unlock()
		s.wg.Done()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand the turn over without running fn.
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}

	defer release()
	return fn()
}

// Close rejects new tasks and waits for queued ones to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}
