// Package mqueue hands submission tasks from the accept path to the
// submission phase. Delivery is at least once; consumers must tolerate
// duplicates.
package mqueue

import (
	"context"
	"errors"
)

// Handler processes one dequeued task payload.
type Handler func(ctx context.Context, body []byte) error

// ErrDrop tells a consumer the message is a poison pill: delete it
// instead of leaving it for redelivery.
var ErrDrop = errors.New("mqueue: drop message")

// Queue delivers task payloads to the submission phase.
type Queue interface {
	// Enqueue hands off one task payload.
	Enqueue(ctx context.Context, body []byte) error
}
