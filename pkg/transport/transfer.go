package transport

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

var ErrHandleRevoked = errors.New("Port handle revoked\n")
var ErrPortClosed = errors.New("Port closed\n")

// TransferPort wraps a byte stream so that exclusive access to it can be reclaimed
// without closing the underlying file handle. The lift controller's serial adapter
// does not survive a close and reopen after a wedged exchange, so recovery has to
// reuse the open stream while cutting off whatever half finished operation was
// stuck on it.
//
// Access goes through a PortHandle issued by Take. Calling Take again bumps the
// owner generation, wakes every operation suspended on an older handle, and makes
// the older handles fail permanently with ErrHandleRevoked.
type TransferPort struct {
	mu      sync.Mutex
	owner   atomic.Uint64
	revoked chan struct{}

	inner   io.ReadWriter
	readCh  chan ioRequest
	writeCh chan ioRequest

	done      chan struct{}
	closeOnce sync.Once
}

// PortHandle is a revocable capability on the port's stream, stamped with the
// owner generation that issued it. Once a later Take advances the generation the
// handle is permanently inert.
type PortHandle struct {
	id   uint64
	port *TransferPort
}

type ioRequest struct {
	data  []byte // write payload, nil for reads
	size  int    // read capacity
	reply chan ioResult
}

type ioResult struct {
	data []byte
	n    int
	err  error
}

func NewTransferPort(inner io.ReadWriter) *TransferPort {
	p := &TransferPort{
		revoked: make(chan struct{}),
		inner:   inner,
		readCh:  make(chan ioRequest),
		writeCh: make(chan ioRequest),
		done:    make(chan struct{}),
	}
	// All inner I/O happens on the two pumps. A caller abandoned by revocation
	// leaves its inner operation to finish on the pump; the pump serves the next
	// generation afterwards, so the stream itself never sees concurrent access.
	go p.pump(p.readCh, p.read)
	go p.pump(p.writeCh, p.write)
	return p
}

// Take disconnects the current owner and returns a fresh handle.
//
// Operations suspended on older handles are woken and fail with ErrHandleRevoked.
func (p *TransferPort) Take() *PortHandle {
	p.mu.Lock()
	id := p.owner.Inc()
	revoked := p.revoked
	p.revoked = make(chan struct{})
	p.mu.Unlock()
	close(revoked)
	klog.V(4).InfoS("Reclaimed serial stream", "generation", id)
	return &PortHandle{id: id, port: p}
}

// Close stops the pumps at process shutdown. It does not close the inner stream.
func (p *TransferPort) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// guard returns the revocation channel for the handle's generation, or fails if
// the generation has already been advanced past it.
func (p *TransferPort) guard(id uint64) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner.Load() != id {
		return nil, ErrHandleRevoked
	}
	return p.revoked, nil
}

func (p *TransferPort) pump(ch chan ioRequest, op func(ioRequest) ioResult) {
	for {
		select {
		case <-p.done:
			return
		case req := <-ch:
			// reply is buffered so an abandoned request never blocks the pump
			req.reply <- op(req)
		}
	}
}

func (p *TransferPort) read(req ioRequest) ioResult {
	buf := make([]byte, req.size)
	n, err := p.inner.Read(buf)
	return ioResult{data: buf[:n], n: n, err: err}
}

func (p *TransferPort) write(req ioRequest) ioResult {
	n, err := p.inner.Write(req.data)
	return ioResult{n: n, err: err}
}

func (h *PortHandle) Read(b []byte) (int, error) {
	res, err := h.do(h.port.readCh, ioRequest{size: len(b)})
	if err != nil {
		return 0, err
	}
	return copy(b, res.data), res.err
}

func (h *PortHandle) Write(b []byte) (int, error) {
	// the payload is copied so the pump never touches a buffer the caller has
	// already taken back after a revocation
	data := make([]byte, len(b))
	copy(data, b)
	res, err := h.do(h.port.writeCh, ioRequest{data: data})
	if err != nil {
		return 0, err
	}
	return res.n, res.err
}

func (h *PortHandle) do(ch chan ioRequest, req ioRequest) (ioResult, error) {
	revoked, err := h.port.guard(h.id)
	if err != nil {
		return ioResult{}, err
	}
	req.reply = make(chan ioResult, 1)
	select {
	case ch <- req:
	case <-revoked:
		return ioResult{}, ErrHandleRevoked
	case <-h.port.done:
		return ioResult{}, ErrPortClosed
	}
	select {
	case res := <-req.reply:
		if h.port.owner.Load() != h.id {
			// revoked while the inner operation was in flight; those bytes
			// belong to an exchange nobody is finishing
			return ioResult{}, ErrHandleRevoked
		}
		return res, nil
	case <-revoked:
		return ioResult{}, ErrHandleRevoked
	case <-h.port.done:
		return ioResult{}, ErrPortClosed
	}
}
