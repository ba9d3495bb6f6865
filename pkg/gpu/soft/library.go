package soft

import (
	"fmt"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

type library struct {
	dev    *Device
	module *hal.SPIRVModule
}

func (l *library) FunctionNames() []string {
	return l.module.Names()
}

func (l *library) Function(name string) (hal.Function, error) {
	e, ok := l.module.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", hal.ErrEntryNotFound, name)
	}
	return &function{lib: l, entry: e}, nil
}

func (l *library) Release() {}

type function struct {
	lib   *library
	entry hal.EntryPoint
}

func (f *function) Name() string {
	return f.entry.Name
}

type pipeline struct {
	dev        *Device
	kernel     Kernel
	width      uint32
	maxThreads uint32
}

func (p *pipeline) ThreadExecutionWidth() uint32 {
	return p.width
}

func (p *pipeline) MaxTotalThreadsPerThreadgroup() uint32 {
	return p.maxThreads
}

func (p *pipeline) Release() {}
