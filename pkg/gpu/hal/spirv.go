package hal

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic = 0x07230203

const (
	spvHeaderWords = 5

	opEntryPoint    = 15
	opExecutionMode = 16
	opDecorate      = 71

	execModelGLCompute = 5
	execModeLocalSize  = 17

	decorationSpecID  = 1
	decorationBuiltIn = 11
	decorationBinding = 33

	builtInWorkgroupSize = 25
)

// EntryPoint is a GLCompute entry point declared by a SPIR-V module.
type EntryPoint struct {
	Name      string
	ID        uint32
	LocalSize [3]uint32
}

// SPIRVModule is the subset of a SPIR-V module the compute backends need.
type SPIRVModule struct {
	Version uint32
	Bound   uint32
	Entries []EntryPoint
	// Bindings is one past the highest descriptor binding declared.
	Bindings uint32
	// SpecWorkgroupSize is true when the workgroup size is driven by
	// specialization constants 0, 1 and 2.
	SpecWorkgroupSize bool
	Words             []uint32
}

// Entry returns the entry point called name.
func (m *SPIRVModule) Entry(name string) (EntryPoint, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

// Names lists entry point names in declaration order.
func (m *SPIRVModule) Names() []string {
	names := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		names[i] = e.Name
	}
	return names
}

// ParseSPIRV validates a little-endian SPIR-V binary and collects its compute
// entry points. Any structural problem is reported as ErrLoad.
func ParseSPIRV(blob []byte) (*SPIRVModule, error) {
	if len(blob) < spvHeaderWords*4 {
		return nil, fmt.Errorf("%w: blob is %d bytes, shorter than a SPIR-V header", ErrLoad, len(blob))
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: blob size %d is not a multiple of 4", ErrLoad, len(blob))
	}
	words := make([]uint32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, words); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if words[0] != SPIRVMagic {
		return nil, fmt.Errorf("%w: bad SPIR-V magic 0x%08x", ErrLoad, words[0])
	}
	m := &SPIRVModule{Version: words[1], Bound: words[3], Words: words}
	if m.Bound == 0 {
		return nil, fmt.Errorf("%w: SPIR-V id bound is zero", ErrLoad)
	}

	byID := map[uint32]int{}
	var specIDs [3]bool
	var wgSizeID uint32
	specOf := map[uint32]uint32{}

	for i := spvHeaderWords; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xffff
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("%w: truncated instruction at word %d", ErrLoad, i)
		}
		inst := words[i : i+count]
		switch op {
		case opEntryPoint:
			if count < 4 {
				return nil, fmt.Errorf("%w: malformed OpEntryPoint at word %d", ErrLoad, i)
			}
			if inst[1] != execModelGLCompute {
				break
			}
			name, _ := spvString(inst[3:])
			if name == "" {
				return nil, fmt.Errorf("%w: unnamed entry point at word %d", ErrLoad, i)
			}
			byID[inst[2]] = len(m.Entries)
			m.Entries = append(m.Entries, EntryPoint{Name: name, ID: inst[2], LocalSize: [3]uint32{1, 1, 1}})
		case opExecutionMode:
			if count >= 6 && inst[2] == execModeLocalSize {
				if idx, ok := byID[inst[1]]; ok {
					m.Entries[idx].LocalSize = [3]uint32{inst[3], inst[4], inst[5]}
				}
			}
		case opDecorate:
			if count < 4 {
				break
			}
			switch inst[2] {
			case decorationBinding:
				if inst[3]+1 > m.Bindings {
					m.Bindings = inst[3] + 1
				}
			case decorationSpecID:
				specOf[inst[1]] = inst[3]
			case decorationBuiltIn:
				if inst[3] == builtInWorkgroupSize {
					wgSizeID = inst[1]
				}
			}
		}
		i += count
	}

	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("%w: no compute entry points", ErrLoad)
	}
	if wgSizeID != 0 {
		for _, spec := range specOf {
			if spec < 3 {
				specIDs[spec] = true
			}
		}
		m.SpecWorkgroupSize = specIDs[0] && specIDs[1] && specIDs[2]
	}
	return m, nil
}

// spvString decodes a nul-terminated literal string and returns the number of
// words it occupied.
func spvString(words []uint32) (string, int) {
	var buf []byte
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return "", 0
}
