package gpu

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/orneryd/gpudispatch/pkg/gpu/soft"
	"github.com/orneryd/gpudispatch/pkg/kernels"
	"github.com/stretchr/testify/require"
)

// newSoftContext opens a context on a fresh software device the test can
// reach directly.
func newSoftContext(t *testing.T, mutate ...func(*Config)) (*Context, *soft.Device) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = BackendSoft
	for _, m := range mutate {
		m(cfg)
	}
	dev, err := soft.NewDevice(cfg.Soft)
	require.NoError(t, err)
	c := NewContext(dev, cfg)
	t.Cleanup(func() {
		_ = c.Close()
		dev.Release()
	})
	return c, dev
}

func mathCalBlob(t *testing.T) []byte {
	t.Helper()
	blob, err := kernels.Blob(hal.FormatSPIRV, kernels.MathCal)
	require.NoError(t, err)
	return blob
}

// spirvWithEntries builds a minimal SPIR-V module declaring one GLCompute
// entry point per name.
func spirvWithEntries(names ...string) []byte {
	words := []uint32{hal.SPIRVMagic, 0x00010000, 0, uint32(len(names) + 1), 0}
	words = append(words, 2<<16|17, 1)
	words = append(words, 3<<16|14, 0, 1)
	for i, name := range names {
		str := append([]byte(name), 0)
		for len(str)%4 != 0 {
			str = append(str, 0)
		}
		inst := []uint32{0, 5, uint32(i + 1)}
		for j := 0; j < len(str); j += 4 {
			inst = append(inst, binary.LittleEndian.Uint32(str[j:]))
		}
		inst[0] = uint32(len(inst))<<16 | 15
		words = append(words, inst...)
	}
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// gate is a kernel that blocks every thread until opened, for holding a
// submission in flight.
type gate struct {
	open chan struct{}
}

func installGate(t *testing.T, c *Context, dev *soft.Device) (*Pipeline, *gate) {
	t.Helper()
	g := &gate{open: make(chan struct{})}
	require.NoError(t, dev.RegisterKernel(soft.Kernel{
		Name:     "gate",
		Bindings: 1,
		Run: func(th soft.Thread, args soft.Args) {
			<-g.open
			args.Uint32(0)[th.Position.X] = 7
		},
	}))
	p, err := c.Pipeline(spirvWithEntries("gate"), "gate")
	require.NoError(t, err)
	t.Cleanup(g.release)
	return p, g
}

func (g *gate) release() {
	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func oneThread() (Size, Size) {
	return Size{X: 1, Y: 1, Z: 1}, Size{X: 1, Y: 1, Z: 1}
}
