package gpu

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/orneryd/gpudispatch/pkg/gpu/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedDevice counts the libraries it has handed out and not yet seen
// released, and records its own release.
type trackedDevice struct {
	hal.Device
	libraries atomic.Int64
	released  atomic.Bool
}

func (d *trackedDevice) NewLibrary(blob []byte) (hal.Library, error) {
	l, err := d.Device.NewLibrary(blob)
	if err != nil {
		return nil, err
	}
	d.libraries.Add(1)
	return &countedLibrary{Library: l, live: &d.libraries}, nil
}

func (d *trackedDevice) Release() {
	d.released.Store(true)
}

type countedLibrary struct {
	hal.Library
	live *atomic.Int64
	once sync.Once
}

func (l *countedLibrary) Release() {
	l.once.Do(func() { l.live.Add(-1) })
	l.Library.Release()
}

type recordingPipeline struct {
	hal.Pipeline
	released atomic.Bool
}

func (p *recordingPipeline) Release() {
	p.released.Store(true)
	p.Pipeline.Release()
}

type recordingBuffer struct {
	hal.Buffer
	released atomic.Bool
}

func (b *recordingBuffer) Release() {
	b.released.Store(true)
	b.Buffer.Release()
}

// newTrackedContext opens a context that owns a trackedDevice wrapping a
// fresh software device.
func newTrackedContext(t *testing.T, mutate ...func(*Config)) (*Context, *trackedDevice, *soft.Device) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = BackendSoft
	for _, m := range mutate {
		m(cfg)
	}
	dev, err := soft.NewDevice(cfg.Soft)
	require.NoError(t, err)
	td := &trackedDevice{Device: dev}
	c := NewContext(td, cfg)
	c.owned = true
	t.Cleanup(func() {
		_ = c.Close()
		dev.Release()
	})
	return c, td, dev
}

// watchPipeline swaps p's device objects for recording wrappers. The
// backend has already encoded p for any submission made before the swap.
func watchPipeline(p *Pipeline) (*recordingPipeline, *countedLibrary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := &recordingPipeline{Pipeline: p.state}
	p.state = state
	lib, _ := p.library.lib.(*countedLibrary)
	return state, lib
}

func TestCloseWaitsForInFlightDispatch(t *testing.T) {
	c, td, dev := newTrackedContext(t)
	gp, g := installGate(t, c, dev)
	q, err := c.Queue()
	require.NoError(t, err)

	buf, err := c.Allocate(4, StorageShared)
	require.NoError(t, err)
	defer buf.Release()
	grid, group := oneThread()
	d, err := Record(gp, Bind(buf), grid, group)
	require.NoError(t, err)
	tok, err := q.Submit(d)
	require.NoError(t, err)

	state, lib := watchPipeline(gp)
	require.NotNil(t, lib)
	require.NoError(t, c.Close())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, TokenPending, tok.Status())
	assert.False(t, state.released.Load(), "pipeline freed while a dispatch using it was in flight")
	assert.Equal(t, int64(1), td.libraries.Load(), "library freed while a dispatch using it was in flight")
	assert.False(t, td.released.Load(), "device released while a dispatch was in flight")

	g.release()
	require.NoError(t, tok.Wait(waitCtx(t)))
	assert.Eventually(t, state.released.Load, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return td.libraries.Load() == 0 }, time.Second, time.Millisecond)
	assert.Eventually(t, td.released.Load, time.Second, time.Millisecond)
}

func TestCloseIdleReleasesDeviceAtOnce(t *testing.T) {
	c, td, _ := newTrackedContext(t)
	_, err := c.Pipeline(mathCalBlob(t), "assign")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, td.released.Load())
	assert.Zero(t, td.libraries.Load())
}

func TestNotOwnedDeviceSurvivesClose(t *testing.T) {
	c, td, _ := newTrackedContext(t)
	c.owned = false
	require.NoError(t, c.Close())
	assert.False(t, td.released.Load())
}

func TestSubmitAfterInvalidate(t *testing.T) {
	c, _ := newSoftContext(t)
	blob := mathCalBlob(t)
	p, err := c.Pipeline(blob, "assign")
	require.NoError(t, err)
	buf, err := c.Allocate(16, StorageShared)
	require.NoError(t, err)
	defer buf.Release()
	d, err := Record(p, Bind(buf), Size{X: 4, Y: 1, Z: 1}, Size{X: 4, Y: 1, Z: 1})
	require.NoError(t, err)

	c.InvalidatePipelines()
	q, err := c.Queue()
	require.NoError(t, err)
	_, err = q.Submit(d)
	assert.ErrorIs(t, err, ErrReleased, "a dropped pipeline takes no new work")

	fresh, err := c.Pipeline(blob, "assign")
	require.NoError(t, err)
	assert.NotSame(t, p, fresh)
}

func TestUncachedPipelineOwnsItsLibrary(t *testing.T) {
	c, td, _ := newTrackedContext(t, func(cfg *Config) { cfg.CachePipelines = false })
	ctx := waitCtx(t)

	for i := 0; i < 5; i++ {
		out, err := c.DotProduct(ctx, []uint32{1, 2, 3}, []uint32{4, 5, 6})
		require.NoError(t, err)
		assert.Equal(t, []uint32{4, 10, 18}, out)
	}
	assert.Equal(t, int64(5), c.Stats().LibrariesLoaded)
	assert.Zero(t, td.libraries.Load(), "uncached pipelines leaked their libraries")

	p, err := c.Pipeline(mathCalBlob(t), "assign")
	require.NoError(t, err)
	assert.Equal(t, int64(1), td.libraries.Load(), "the pipeline keeps its library")
	p.Release()
	assert.Zero(t, td.libraries.Load())

	_, err = c.Pipeline(mathCalBlob(t), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.Zero(t, td.libraries.Load(), "a failed lookup leaked its library")
}

func TestKernelLibraryRelease(t *testing.T) {
	c, td, _ := newTrackedContext(t, func(cfg *Config) { cfg.CachePipelines = false })

	lib, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	e, err := lib.Entry("assign")
	require.NoError(t, err)
	p, err := c.BuildPipeline(e)
	require.NoError(t, err)

	lib.Release()
	lib.Release()
	assert.Equal(t, int64(1), td.libraries.Load(), "a live pipeline keeps the library")
	_, err = lib.Entry("assign")
	assert.ErrorIs(t, err, ErrReleased)
	_, err = c.BuildPipeline(e)
	assert.ErrorIs(t, err, ErrReleased)

	p.Release()
	assert.Zero(t, td.libraries.Load())
}

func TestCachedKernelLibraryIgnoresRelease(t *testing.T) {
	c, td, _ := newTrackedContext(t)

	lib, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	lib.Release()
	_, err = lib.Entry("assign")
	require.NoError(t, err, "cached libraries belong to the context")
	assert.Equal(t, int64(1), td.libraries.Load())

	c.InvalidatePipelines()
	assert.Zero(t, td.libraries.Load())
}

func TestBufferReleaseWaitsForEveryQueue(t *testing.T) {
	c, dev := newSoftContext(t)
	open := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(open) }) }
	t.Cleanup(unblock)
	require.NoError(t, dev.RegisterKernel(soft.Kernel{
		Name:     "hold",
		Bindings: 1,
		Run: func(th soft.Thread, args soft.Args) {
			<-open
			_ = args.Uint32(0)[th.Position.X]
		},
	}))
	require.NoError(t, dev.RegisterKernel(soft.Kernel{
		Name:     "peek",
		Bindings: 1,
		Run: func(th soft.Thread, args soft.Args) {
			_ = args.Uint32(0)[th.Position.X]
		},
	}))
	hold, err := c.Pipeline(spirvWithEntries("hold"), "hold")
	require.NoError(t, err)
	peek, err := c.Pipeline(spirvWithEntries("peek"), "peek")
	require.NoError(t, err)

	q1, _ := c.NewCommandQueue()
	defer q1.Release()
	q2, _ := c.NewCommandQueue()
	defer q2.Release()

	buf, err := c.Allocate(4, StorageShared)
	require.NoError(t, err)
	ro := []Binding{{Index: 0, Buffer: buf, ReadOnly: true}}
	grid, group := oneThread()

	d1, err := Record(hold, ro, grid, group)
	require.NoError(t, err)
	slow, err := q1.Submit(d1)
	require.NoError(t, err)
	d2, err := Record(peek, ro, grid, group)
	require.NoError(t, err)
	fast, err := q2.Submit(d2)
	require.NoError(t, err)
	require.NoError(t, fast.Wait(waitCtx(t)))

	buf.mu.Lock()
	rec := &recordingBuffer{Buffer: buf.hb}
	buf.hb = rec
	buf.mu.Unlock()

	buf.Release()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, rec.released.Load(), "buffer freed while another queue still reads it")

	unblock()
	require.NoError(t, slow.Wait(waitCtx(t)))
	assert.Eventually(t, rec.released.Load, time.Second, time.Millisecond)
}
