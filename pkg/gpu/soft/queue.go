package soft

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// queue executes committed command buffers one at a time, in commit order.
type queue struct {
	dev *Device

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*commandBuffer
	closed  bool
}

func newQueue(d *Device) *queue {
	q := &queue{dev: d}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		cb := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		cb.finish(cb.execute())
	}
}

func (q *queue) submit(cb *commandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return hal.ErrReleased
	}
	q.pending = append(q.pending, cb)
	q.cond.Signal()
	return nil
}

func (q *queue) NewCommandBuffer() (hal.CommandBuffer, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, hal.ErrReleased
	}
	return &commandBuffer{queue: q, done: make(chan struct{})}, nil
}

// Release stops the worker once already committed work has drained.
func (q *queue) Release() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type command func() error

type commandBuffer struct {
	queue     *queue
	commands  []command
	committed atomic.Bool
	done      chan struct{}
	err       error
}

func (cb *commandBuffer) DispatchThreads(p hal.Pipeline, bindings []hal.Binding, grid, group hal.Size) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	pl, ok := p.(*pipeline)
	if !ok || pl.dev != cb.queue.dev {
		return hal.ErrForeignResource
	}
	if grid.IsZero() || group.IsZero() {
		return fmt.Errorf("soft: empty dispatch grid %v group %v", grid, group)
	}
	if group.Threads() > uint64(pl.maxThreads) {
		return fmt.Errorf("soft: group %v exceeds %d threads", group, pl.maxThreads)
	}

	args := make(Args, pl.kernel.Bindings)
	for _, bd := range bindings {
		buf, ok := bd.Buffer.(*Buffer)
		if !ok || buf.dev != cb.queue.dev {
			return hal.ErrForeignResource
		}
		if int(bd.Index) >= len(args) {
			return fmt.Errorf("soft: %s has no buffer slot %d", pl.kernel.Name, bd.Index)
		}
		if bd.Offset >= buf.length || bd.Offset%4 != 0 {
			return fmt.Errorf("soft: invalid offset %d for a %d byte buffer", bd.Offset, buf.length)
		}
		args[bd.Index] = buf.device[bd.Offset:]
	}
	for i, a := range args {
		if a == nil {
			return fmt.Errorf("soft: %s slot %d is unbound", pl.kernel.Name, i)
		}
	}

	cb.commands = append(cb.commands, func() error {
		return cb.queue.dev.execute(pl, args, grid, group)
	})
	return nil
}

func (cb *commandBuffer) SynchronizeResource(b hal.Buffer) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	buf, ok := b.(*Buffer)
	if !ok || buf.dev != cb.queue.dev {
		return hal.ErrForeignResource
	}
	cb.commands = append(cb.commands, func() error {
		buf.synchronize()
		return nil
	})
	return nil
}

func (cb *commandBuffer) Commit() error {
	if cb.committed.Swap(true) {
		return hal.ErrCommitted
	}
	if cb.queue.dev.lost.Load() {
		cb.finish(hal.ErrDeviceLost)
		return nil
	}
	if err := cb.queue.submit(cb); err != nil {
		cb.finish(err)
		return err
	}
	return nil
}

func (cb *commandBuffer) WaitUntilCompleted() error {
	if !cb.committed.Load() {
		return hal.ErrNotCommitted
	}
	<-cb.done
	return cb.err
}

func (cb *commandBuffer) execute() error {
	for _, c := range cb.commands {
		if cb.queue.dev.lost.Load() {
			return hal.ErrDeviceLost
		}
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

func (cb *commandBuffer) finish(err error) {
	cb.err = err
	close(cb.done)
}

// execute runs every thread of grid in groups of shape group. Groups are
// spread over the worker pool; threads past the grid edge are skipped.
func (d *Device) execute(p *pipeline, args Args, grid, group hal.Size) error {
	groups := group.GroupsFor(grid)
	total := groups.Threads()

	workers := uint64(d.cfg.Workers)
	if workers > total {
		workers = total
	}

	var next atomic.Uint64
	var wg sync.WaitGroup
	for w := uint64(0); w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				g := next.Add(1) - 1
				if g >= total {
					return
				}
				gpos := hal.Size{
					X: uint32(g % uint64(groups.X)),
					Y: uint32(g / uint64(groups.X) % uint64(groups.Y)),
					Z: uint32(g / (uint64(groups.X) * uint64(groups.Y))),
				}
				runGroup(p.kernel, args, grid, group, gpos)
			}
		}()
	}
	wg.Wait()
	return nil
}

func runGroup(k Kernel, args Args, grid, group, gpos hal.Size) {
	origin := hal.Size{X: gpos.X * group.X, Y: gpos.Y * group.Y, Z: gpos.Z * group.Z}
	for z := uint32(0); z < group.Z; z++ {
		if origin.Z+z >= grid.Z {
			break
		}
		for y := uint32(0); y < group.Y; y++ {
			if origin.Y+y >= grid.Y {
				break
			}
			for x := uint32(0); x < group.X; x++ {
				if origin.X+x >= grid.X {
					break
				}
				k.Run(Thread{
					Position: hal.Size{X: origin.X + x, Y: origin.Y + y, Z: origin.Z + z},
					Grid:     grid,
					Group:    gpos,
					Local:    hal.Size{X: x, Y: y, Z: z},
				}, args)
			}
		}
	}
}
