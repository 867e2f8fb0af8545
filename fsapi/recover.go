package fsapi

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/soypat/dualfs/icache"
)

// guard runs fn and converts a panicking icache.FatalError — raised
// deep inside an engine when it trips over a corrupted on-disk
// structure or a ref-count invariant it cannot recover from locally —
// into a normal error return, logging the stack once. This is the
// syscall boundary spec §9 draws between "fatal" and "non-fatal":
// everything below fsapi may panic on the fatal class, nothing above
// it should ever see that panic. Any other panic is not ours to
// swallow and keeps unwinding.
func (p *Process) guard(name string, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fe, ok := r.(icache.FatalError)
		if !ok {
			panic(r)
		}
		err = fmt.Errorf("fsapi: %s: %w", name, fe)
		if p.fs.log != nil {
			p.fs.log.Error("recovered fatal filesystem error",
				slog.String("syscall", name),
				slog.String("cause", fe.Error()),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	return fn()
}
