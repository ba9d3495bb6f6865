package kernels

import (
	"testing"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobSPIRV(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			blob, err := Blob(hal.FormatSPIRV, name)
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(blob), 20)
			assert.Equal(t, []byte{0x03, 0x02, 0x23, 0x07}, blob[:4])
		})
	}
}

func TestBlobUnknown(t *testing.T) {
	_, err := Blob(hal.FormatSPIRV, "missing")
	assert.ErrorIs(t, err, ErrNotBundled)

	_, err = Blob(hal.KernelFormat("dxil"), MathCal)
	assert.ErrorIs(t, err, ErrNotBundled)
}

func TestNamesIsCopy(t *testing.T) {
	names := Names()
	names[0] = "changed"
	assert.Equal(t, MathCal, Names()[0])
}
