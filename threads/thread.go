package threads

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInterrupted is the cancellation cause of an interrupted thread.
var ErrInterrupted = errors.New("thread interrupted")

// Thread is one unit of work executing part of a plan. Interruption cancels
// its context; work that never checks the context keeps running.
type Thread struct {
	ID   string
	Name string

	ctx     context.Context
	cancel  context.CancelCauseFunc
	started time.Time

	mu    sync.Mutex
	ops   []string
	nodes []string
}

// NewThread creates a thread whose context derives from parent.
func NewThread(parent context.Context, name string) *Thread {
	ctx, cancel := context.WithCancelCause(parent)
	t := &Thread{
		ID:      uuid.New().String(),
		Name:    name,
		cancel:  cancel,
		started: time.Now(),
	}
	t.ctx = WithThread(ctx, t)
	return t
}

// Context returns the thread's context. It carries the thread itself.
func (t *Thread) Context() context.Context {
	return t.ctx
}

// Interrupt requests cancellation with cause.
func (t *Thread) Interrupt(cause error) {
	if cause == nil {
		cause = ErrInterrupted
	}
	t.cancel(cause)
}

// Interrupted reports whether the thread was interrupted.
func (t *Thread) Interrupted() bool {
	return errors.Is(context.Cause(t.ctx), ErrInterrupted)
}

// Done releases the thread's context.
func (t *Thread) Done() {
	t.cancel(context.Canceled)
}

// PushOperation records the operation the thread is now performing.
func (t *Thread) PushOperation(op string) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
}

// PopOperation removes the innermost operation.
func (t *Thread) PopOperation() {
	t.mu.Lock()
	if n := len(t.ops); n > 0 {
		t.ops = t.ops[:n-1]
	}
	t.mu.Unlock()
}

// Operations returns the operation stack, outermost first.
func (t *Thread) Operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *Thread) enterNode(nodeID string) {
	t.mu.Lock()
	t.nodes = append(t.nodes, nodeID)
	t.mu.Unlock()
}

func (t *Thread) leaveNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if t.nodes[i] == nodeID {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return
		}
	}
}

func (t *Thread) currentNode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.nodes) == 0 {
		return ""
	}
	return t.nodes[len(t.nodes)-1]
}

type threadKey struct{}

// WithThread returns a context carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// FromContext returns the thread carried by ctx.
func FromContext(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok && t != nil
}
