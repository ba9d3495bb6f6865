package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// TokenStatus is the state of a CompletionToken.
type TokenStatus int

const (
	TokenPending TokenStatus = iota
	TokenCompleted
)

func (s TokenStatus) String() string {
	if s == TokenCompleted {
		return "completed"
	}
	return "pending"
}

// CompletionToken resolves when a submission finishes on the device. Tokens
// of one queue resolve in submission order. Committed work cannot be
// cancelled.
type CompletionToken struct {
	id        uuid.UUID
	queue     *CommandQueue
	label     string
	done      chan struct{}
	err       error
	submitted time.Time
	completed time.Time
}

func newToken(q *CommandQueue, label string) *CompletionToken {
	return &CompletionToken{
		id:        uuid.New(),
		queue:     q,
		label:     label,
		done:      make(chan struct{}),
		submitted: time.Now(),
	}
}

// resolvedToken is already complete, for work that needs no device pass.
func resolvedToken(q *CommandQueue, label string) *CompletionToken {
	t := newToken(q, label)
	t.resolve(nil)
	return t
}

func (t *CompletionToken) resolve(err error) {
	t.err = err
	t.completed = time.Now()
	close(t.done)
}

// ID identifies the submission in logs.
func (t *CompletionToken) ID() uuid.UUID { return t.id }

// Label says what was submitted ("dispatch:<kernel>" or "synchronize").
func (t *CompletionToken) Label() string { return t.label }

// Done is closed when the token resolves.
func (t *CompletionToken) Done() <-chan struct{} { return t.done }

// Status reports whether the token resolved.
func (t *CompletionToken) Status() TokenStatus {
	select {
	case <-t.done:
		return TokenCompleted
	default:
		return TokenPending
	}
}

// Err is the execution error. Nil while pending.
func (t *CompletionToken) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Duration is the time from submission to resolution, zero while pending.
func (t *CompletionToken) Duration() time.Duration {
	if t.Status() == TokenPending {
		return 0
	}
	return t.completed.Sub(t.submitted)
}

// Wait blocks until the token resolves and returns the execution error.
// If ctx ends first Wait returns ctx.Err(); the device work still runs to
// completion and the token still resolves.
func (t *CompletionToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *CompletionToken) pending() bool {
	return t != nil && t.Status() == TokenPending
}

// CommandQueue is a FIFO stream of submissions.
type CommandQueue struct {
	id  uuid.UUID
	ctx *Context
	q   hal.CommandQueue

	mu       sync.Mutex
	tail     *CompletionToken
	released bool
}

func newCommandQueue(c *Context, q hal.CommandQueue) *CommandQueue {
	return &CommandQueue{id: uuid.New(), ctx: c, q: q}
}

// ID identifies the queue in logs.
func (q *CommandQueue) ID() uuid.UUID { return q.id }

// Submit commits a recorded dispatch and returns its token.
//
// Every bound buffer must be live and free of a pending writer on another
// queue (ErrBufferInFlight). Writable bindings become the buffers' pending
// writer until the token resolves.
func (q *CommandQueue) Submit(d *Dispatch) (*CompletionToken, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dispatch", ErrInvalidDispatch)
	}
	if d.pipeline.ctx != q.ctx {
		return nil, fmt.Errorf("%w: pipeline belongs to another context", ErrInvalidDispatch)
	}
	if err := q.ctx.checkOpen(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, ErrReleased
	}

	p := d.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, fmt.Errorf("%w: pipeline %s", ErrReleased, p.name)
	}

	buffers := make([]*Buffer, 0, len(d.bindings))
	for _, bd := range d.bindings {
		buffers = append(buffers, bd.Buffer)
	}
	unlock := lockBuffers(buffers)
	defer unlock()

	for _, b := range buffers {
		if b.released {
			return nil, fmt.Errorf("%w: buffer %s", ErrReleased, b.id)
		}
		if b.writer.pending() && b.writer.queue != q {
			return nil, fmt.Errorf("%w: buffer %s is written by %s on another queue",
				ErrBufferInFlight, b.id, b.writer.label)
		}
	}

	cb, err := q.q.NewCommandBuffer()
	if err != nil {
		return nil, fmt.Errorf("gpu: new command buffer: %w", err)
	}
	if err := cb.DispatchThreads(d.pipeline.state, d.halBindings(), d.grid, d.group); err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrInvalidDispatch, d.pipeline.name, err)
	}
	if err := cb.Commit(); err != nil {
		return nil, fmt.Errorf("gpu: commit %s: %w", d.pipeline.name, err)
	}

	tok := q.track(cb, "dispatch:"+d.pipeline.name, nil)
	p.uses.note(tok)
	for _, bd := range d.bindings {
		b := bd.Buffer
		b.uses.note(tok)
		if bd.ReadOnly {
			continue
		}
		b.writer = tok
		b.generation++
		if b.mode == StorageManaged {
			b.dirty = true
		}
	}
	q.ctx.stats.dispatches.Add(1)
	Logger().Debug("gpu dispatch submitted",
		"token", tok.id, "queue", q.id, "entry", d.pipeline.name, "grid", d.grid.String(), "group", d.group.String())
	return tok, nil
}

// Synchronize makes device writes to a Managed buffer visible in its host
// copy. The copy-back pass runs in its own command buffer on this queue,
// after every earlier submission. For Shared buffers it does nothing and
// returns a resolved token.
func (q *CommandQueue) Synchronize(b *Buffer) (*CompletionToken, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	}
	if err := q.ctx.checkOpen(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, ErrReleased
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("%w: buffer %s", ErrReleased, b.id)
	}
	if b.mode == StorageShared {
		return resolvedToken(q, "synchronize"), nil
	}
	if b.writer.pending() && b.writer.queue != q {
		return nil, fmt.Errorf("%w: buffer %s is written by %s on another queue",
			ErrBufferInFlight, b.id, b.writer.label)
	}

	cb, err := q.q.NewCommandBuffer()
	if err != nil {
		return nil, fmt.Errorf("gpu: new command buffer: %w", err)
	}
	if err := cb.SynchronizeResource(b.hb); err != nil {
		return nil, fmt.Errorf("gpu: encode synchronize: %w", err)
	}
	if err := cb.Commit(); err != nil {
		return nil, fmt.Errorf("gpu: commit synchronize: %w", err)
	}

	gen := b.generation
	tok := q.track(cb, "synchronize", func(err error) {
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.generation == gen {
			b.dirty = false
		}
		b.mu.Unlock()
	})
	b.uses.note(tok)
	q.ctx.stats.synchronizations.Add(1)
	Logger().Debug("gpu synchronize submitted", "token", tok.id, "queue", q.id, "buffer", b.id)
	return tok, nil
}

// Finish waits for every submission made so far.
func (q *CommandQueue) Finish(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail == nil {
		return nil
	}
	return tail.Wait(ctx)
}

// Release stops accepting submissions. Work already submitted completes.
func (q *CommandQueue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	q.mu.Unlock()
	q.q.Release()
}

// track resolves a token when cb completes and its predecessor on this
// queue has resolved. Caller holds q.mu.
func (q *CommandQueue) track(cb hal.CommandBuffer, label string, onResolve func(error)) *CompletionToken {
	tok := newToken(q, label)
	prev := q.tail
	q.tail = tok
	q.ctx.inflight.note(tok)

	go func() {
		err := cb.WaitUntilCompleted()
		if prev != nil {
			<-prev.done
		}
		if err != nil {
			err = fmt.Errorf("gpu: %s failed: %w", label, err)
			if errors.Is(err, ErrDeviceLost) {
				q.ctx.deviceLost(err)
			}
		}
		if onResolve != nil {
			onResolve(err)
		}
		tok.resolve(err)
		Logger().Debug("gpu submission resolved",
			"token", tok.id, "label", label, "duration", tok.Duration(), "error", err)
	}()
	return tok
}

// lockBuffers locks each distinct buffer once, in a stable order.
func lockBuffers(buffers []*Buffer) func() {
	seen := make(map[*Buffer]bool, len(buffers))
	var locked []*Buffer
	for _, b := range sortedBuffers(buffers) {
		if seen[b] {
			continue
		}
		seen[b] = true
		b.mu.Lock()
		locked = append(locked, b)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

func sortedBuffers(in []*Buffer) []*Buffer {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b *Buffer) int {
		return bytes.Compare(a.id[:], b.id[:])
	})
	return out
}

// useSet remembers the latest submission of each queue that used a
// resource. Tokens of one queue resolve in order, so the latest one per
// queue stands for all of them.
type useSet struct {
	mu     sync.Mutex
	latest map[*CommandQueue]*CompletionToken
}

func (s *useSet) note(t *CompletionToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[*CommandQueue]*CompletionToken)
	}
	for q, last := range s.latest {
		if !last.pending() {
			delete(s.latest, q)
		}
	}
	s.latest[t.queue] = t
}

func (s *useSet) pending() []*CompletionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CompletionToken
	for _, t := range s.latest {
		if t.pending() {
			out = append(out, t)
		}
	}
	return out
}

// whenIdle runs fn once every noted submission has resolved. With nothing
// pending fn runs before whenIdle returns. Otherwise it runs on its own
// goroutine, and c keeps its device until fn returns.
func (s *useSet) whenIdle(c *Context, fn func()) {
	pending := s.pending()
	if len(pending) == 0 {
		fn()
		return
	}
	c.hold()
	go func() {
		defer c.unhold()
		for _, t := range pending {
			<-t.done
		}
		fn()
	}()
}
