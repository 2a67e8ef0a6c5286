// Package checkpoint persists opaque agent-state blobs keyed by thread.
package checkpoint

import (
	"context"
	"errors"
)

// ErrStaleParent is returned by Put when parentSequence does not match the
// thread's current latest sequence — the caller is working from a stale
// view of the chain and must reload before retrying.
var ErrStaleParent = errors.New("checkpoint: stale parent sequence")

// ErrNotFound is returned by Latest when a thread has no checkpoints.
var ErrNotFound = errors.New("checkpoint: thread has no checkpoints")

// Entry is one link in a thread's checkpoint chain.
type Entry struct {
	ThreadID       string
	Sequence       int64
	Payload        []byte
	ParentSequence *int64
}

// Store persists the checkpoint chain for every thread. Put is atomic per
// thread: concurrent Puts on the same thread are serialized by the
// implementation and sequences never collide.
type Store interface {
	// Put appends payload as the child of parentSequence and returns the new
	// sequence number. parentSequence must equal the thread's current latest
	// sequence (nil only for a thread's first checkpoint), else ErrStaleParent.
	Put(ctx context.Context, threadID string, parentSequence *int64, payload []byte) (int64, error)

	// Latest returns the highest-sequence checkpoint for a thread.
	Latest(ctx context.Context, threadID string) (Entry, error)

	// List returns every checkpoint for a thread in ascending sequence order.
	List(ctx context.Context, threadID string) ([]Entry, error)

	// Reset discards every checkpoint for a thread.
	Reset(ctx context.Context, threadID string) error

	// Close releases any resources held by the store.
	Close() error
}
