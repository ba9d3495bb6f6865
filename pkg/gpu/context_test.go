package gpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/orneryd/gpudispatch/pkg/gpu/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSoft(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendSoft
	c, err := Open(cfg)
	require.NoError(t, err)
	defer c.Close()

	info := c.Device()
	assert.Equal(t, BackendSoft, info.Backend)
	assert.Equal(t, soft.DefaultConfig().Name, info.Name)
	assert.Equal(t, 1024, info.MaxWorkGroup)
	assert.True(t, info.Available)
}

func TestOpenUnknownPreferredBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = Backend("opencl")
	cfg.FallbackOnError = true
	c, err := Open(cfg)
	require.NoError(t, err, "unknown preferred backend falls through to the platform default or soft")
	_ = c.Close()
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"auto", BackendAuto, false},
		{"metal", BackendMetal, false},
		{"vulkan", BackendVulkan, false},
		{"soft", BackendSoft, false},
		{"cuda", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadLibrary(t *testing.T) {
	c, _ := newSoftContext(t)

	lib, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"dot_product", "mul_matrices", "assign"}, lib.Names())
	assert.Len(t, lib.Digest(), 16)

	again, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	assert.Same(t, lib, again, "identical blobs share a cached library")
	assert.Equal(t, int64(1), c.Stats().LibrariesLoaded)

	_, err = c.LoadLibrary([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrLoad)
	_, err = c.LoadLibrary(nil)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestEntry(t *testing.T) {
	c, _ := newSoftContext(t)
	lib, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)

	e, err := lib.Entry("assign")
	require.NoError(t, err)
	assert.Equal(t, "assign", e.Name())

	_, err = lib.Entry("sum")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestBuildPipeline(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) {
		cfg.Soft.ExecutionWidth = 16
		cfg.Soft.MaxThreadsPerGroup = 64
	})
	lib, err := c.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	e, err := lib.Entry("mul_matrices")
	require.NoError(t, err)

	p, err := c.BuildPipeline(e)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, "mul_matrices", p.Name())
	assert.Equal(t, uint32(16), p.ExecutionWidth())
	assert.Equal(t, uint32(64), p.MaxThreadsPerGroup())

	p2, err := c.BuildPipeline(e)
	require.NoError(t, err)
	defer p2.Release()
	assert.NotSame(t, p, p2, "BuildPipeline never caches")
	assert.Equal(t, int64(2), c.Stats().PipelinesBuilt)
}

func TestBuildPipelineErrors(t *testing.T) {
	c, _ := newSoftContext(t)

	lib, err := c.LoadLibrary(spirvWithEntries("histogram"))
	require.NoError(t, err)
	e, err := lib.Entry("histogram")
	require.NoError(t, err)
	_, err = c.BuildPipeline(e)
	assert.ErrorIs(t, err, ErrPipelineBuild)

	_, err = c.BuildPipeline(nil)
	assert.ErrorIs(t, err, ErrPipelineBuild)

	other, _ := newSoftContext(t)
	foreign, err := other.LoadLibrary(mathCalBlob(t))
	require.NoError(t, err)
	fe, err := foreign.Entry("assign")
	require.NoError(t, err)
	_, err = c.BuildPipeline(fe)
	assert.ErrorIs(t, err, ErrPipelineBuild)
}

func TestPipelineCache(t *testing.T) {
	c, _ := newSoftContext(t)
	blob := mathCalBlob(t)

	p1, err := c.Pipeline(blob, "dot_product")
	require.NoError(t, err)
	p2, err := c.Pipeline(blob, "dot_product")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := c.Pipeline(blob, "assign")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.PipelinesBuilt)
	assert.Equal(t, int64(1), stats.PipelineCacheHits)
	assert.Equal(t, int64(1), stats.LibrariesLoaded)

	_, err = c.Pipeline(blob, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = c.Pipeline([]byte("junk"), "assign")
	assert.ErrorIs(t, err, ErrLoad)
}

func TestPipelineCacheDisabled(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) { cfg.CachePipelines = false })
	blob := mathCalBlob(t)

	p1, err := c.Pipeline(blob, "assign")
	require.NoError(t, err)
	defer p1.Release()
	p2, err := c.Pipeline(blob, "assign")
	require.NoError(t, err)
	defer p2.Release()
	assert.NotSame(t, p1, p2)
	assert.Zero(t, c.Stats().PipelineCacheHits)
	assert.Equal(t, int64(2), c.Stats().LibrariesLoaded)
}

func TestDeviceLossInvalidatesPipelines(t *testing.T) {
	c, dev := newSoftContext(t)
	p, err := c.Pipeline(mathCalBlob(t), "assign")
	require.NoError(t, err)

	buf, err := c.Allocate(64, StorageShared)
	require.NoError(t, err)
	grid, group, err := OneGroup(p, 16)
	require.NoError(t, err)
	d, err := Record(p, Bind(buf), grid, group)
	require.NoError(t, err)

	q, err := c.Queue()
	require.NoError(t, err)
	dev.Lose()
	tok, err := q.Submit(d)
	require.NoError(t, err)
	err = tok.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrDeviceLost)

	assert.Equal(t, int64(1), c.Stats().DeviceLosses)
	c.mu.Lock()
	assert.Empty(t, c.pipelines)
	assert.Empty(t, c.libraries)
	c.mu.Unlock()
}

func TestAllocate(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) { cfg.Soft.MemoryLimit = 4096 })

	buf, err := c.Allocate(128, StorageManaged)
	require.NoError(t, err)
	assert.Equal(t, uint64(128), buf.Length())
	assert.Equal(t, StorageManaged, buf.Mode())
	assert.NotEqual(t, buf.ID().String(), "")
	for _, v := range buf.Contents() {
		require.Zero(t, v)
	}

	_, err = c.Allocate(0, StorageShared)
	assert.ErrorIs(t, err, ErrInvalidBuffer)
	_, err = c.Allocate(8, StorageMode(5))
	assert.ErrorIs(t, err, ErrInvalidBuffer)
	_, err = c.AllocateFrom(ViewOf([]uint32{}), StorageShared)
	assert.ErrorIs(t, err, ErrInvalidBuffer)
	_, err = c.Allocate(1<<20, StorageShared)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	assert.Equal(t, int64(128), c.Stats().BytesAllocated)
}

func TestClose(t *testing.T) {
	c, _ := newSoftContext(t)
	_, err := c.Pipeline(mathCalBlob(t), "assign")
	require.NoError(t, err)
	_, err = c.Queue()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Allocate(8, StorageShared)
	assert.True(t, errors.Is(err, ErrContextClosed))
	_, err = c.LoadLibrary(mathCalBlob(t))
	assert.ErrorIs(t, err, ErrContextClosed)
	_, err = c.NewCommandQueue()
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestListDevices(t *testing.T) {
	devices := ListDevices(nil)
	require.NotEmpty(t, devices)
	last := devices[len(devices)-1]
	assert.Equal(t, BackendSoft, last.Backend)
	assert.True(t, last.Available)
}

func TestCheckDeviceIndex(t *testing.T) {
	tests := []struct {
		id, count int
		wantErr   bool
	}{
		{0, 1, false},
		{1, 2, false},
		{2, 2, true},
		{5, 1, true},
		{-1, 3, true},
		{0, 0, true},
	}
	for _, tt := range tests {
		err := checkDeviceIndex(tt.id, tt.count)
		if !tt.wantErr {
			assert.NoError(t, err, "device %d of %d", tt.id, tt.count)
			continue
		}
		assert.ErrorIs(t, err, ErrGPUNotAvailable, "device %d of %d", tt.id, tt.count)
		assert.Contains(t, err.Error(), fmt.Sprintf("device %d out of range", tt.id))
	}
}
