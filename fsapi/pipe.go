package fsapi

import (
	"fmt"
	"sync"
)

// pipeSize is xv6's PIPESIZE (pipe.h), another constant carried by
// convention since pipe.c/pipe.h were filtered out of the retrieved
// source tree.
const pipeSize = 512

// pipe is the bounded ring buffer backing sys_pipe's two file
// descriptors. xv6's pipe.c implements the same nread/nwrite
// monotonic-counter scheme (mod PIPESIZE for the buffer index, full
// width for distinguishing empty from full); this is a reconstruction
// of that scheme against a sync.Cond rather than xv6's sleep/wakeup,
// since pipe.c itself was not in the retrieved original_source set.
type pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  [pipeSize]byte

	nread, nwrite uint64

	readOpen, writeOpen bool
}

func newPipe() *pipe {
	pp := &pipe{readOpen: true, writeOpen: true}
	pp.cond = sync.NewCond(&pp.mu)
	return pp
}

func (pp *pipe) closeEnd(writeEnd bool) {
	pp.mu.Lock()
	if writeEnd {
		pp.writeOpen = false
	} else {
		pp.readOpen = false
	}
	pp.mu.Unlock()
	pp.cond.Broadcast()
}

func (pp *pipe) write(data []byte) (int, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	n := 0
	for n < len(data) {
		if !pp.readOpen {
			return n, fmt.Errorf("fsapi: pipe: read end closed")
		}
		if pp.nwrite-pp.nread == pipeSize {
			pp.cond.Broadcast()
			pp.cond.Wait()
			continue
		}
		pp.buf[pp.nwrite%pipeSize] = data[n]
		pp.nwrite++
		n++
	}
	pp.cond.Broadcast()
	return n, nil
}

func (pp *pipe) read(dst []byte) (int, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	for pp.nread == pp.nwrite && pp.writeOpen {
		pp.cond.Wait()
	}
	n := 0
	for n < len(dst) && pp.nread < pp.nwrite {
		dst[n] = pp.buf[pp.nread%pipeSize]
		pp.nread++
		n++
	}
	pp.cond.Broadcast()
	return n, nil
}
