package hal_test

import (
	"encoding/binary"
	"testing"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/orneryd/gpudispatch/pkg/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSPIRVBundledLibraries(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
	}{
		{kernels.MathCal, []string{kernels.EntryDotProduct, kernels.EntryMulMatrices, kernels.EntryAssign}},
		{kernels.DotProd, []string{kernels.EntryDotProduct}},
		{kernels.MatrixProd, []string{kernels.EntryMulMatrices}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := kernels.Blob(hal.FormatSPIRV, tt.name)
			require.NoError(t, err)

			mod, err := hal.ParseSPIRV(blob)
			require.NoError(t, err)
			assert.Equal(t, uint32(0x00010000), mod.Version)
			assert.NotZero(t, mod.Bound)
			assert.Equal(t, tt.entries, mod.Names())
			assert.True(t, mod.SpecWorkgroupSize, "workgroup size should come from spec constants")
			for _, e := range mod.Entries {
				assert.Equal(t, [3]uint32{1, 1, 1}, e.LocalSize)
			}
		})
	}
}

func TestParseSPIRVBindings(t *testing.T) {
	blob, err := kernels.Blob(hal.FormatSPIRV, kernels.MathCal)
	require.NoError(t, err)
	mod, err := hal.ParseSPIRV(blob)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), mod.Bindings)

	e, ok := mod.Entry(kernels.EntryAssign)
	require.True(t, ok)
	assert.Equal(t, kernels.EntryAssign, e.Name)

	_, ok = mod.Entry("nope")
	assert.False(t, ok)
}

func TestParseSPIRVRejects(t *testing.T) {
	valid, err := kernels.Blob(hal.FormatSPIRV, kernels.DotProd)
	require.NoError(t, err)

	badMagic := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badMagic, 0xdeadbeef)

	zeroBound := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(zeroBound[12:], 0)

	// header only: valid magic but no entry points
	headerOnly := append([]byte(nil), valid[:20]...)

	// OpCapability declares two words; keep only the first
	truncated := append([]byte(nil), valid[:24]...)

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"short", []byte{0x03, 0x02, 0x23, 0x07}},
		{"unaligned", valid[:len(valid)-1]},
		{"bad magic", badMagic},
		{"zero bound", zeroBound},
		{"no entry points", headerOnly},
		{"truncated", truncated},
		{"metallib", []byte("MTLB\x01\x00\x02\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hal.ParseSPIRV(tt.blob)
			require.Error(t, err)
			assert.ErrorIs(t, err, hal.ErrLoad)
		})
	}
}

func TestSizeHelpers(t *testing.T) {
	assert.Equal(t, uint64(24), hal.Size{X: 2, Y: 3, Z: 4}.Threads())
	assert.True(t, hal.Size{X: 1, Y: 0, Z: 1}.IsZero())
	assert.False(t, hal.Size{X: 1, Y: 1, Z: 1}.IsZero())
	assert.Equal(t, "(4,4,1)", hal.Size{X: 4, Y: 4, Z: 1}.String())

	group := hal.Size{X: 32, Y: 32, Z: 1}
	assert.Equal(t, hal.Size{X: 1, Y: 1, Z: 1}, group.GroupsFor(hal.Size{X: 4, Y: 4, Z: 1}))
	assert.Equal(t, hal.Size{X: 2, Y: 1, Z: 1}, group.GroupsFor(hal.Size{X: 33, Y: 1, Z: 1}))
}

func TestStorageModeString(t *testing.T) {
	assert.Equal(t, "shared", hal.StorageShared.String())
	assert.Equal(t, "managed", hal.StorageManaged.String())
	assert.Equal(t, "StorageMode(7)", hal.StorageMode(7).String())
	assert.False(t, hal.StorageMode(7).Valid())
}
