package transport

import (
	"errors"
	"io"
	"time"
)

var ErrReadTimeout = errors.New("Serial read timed out\n")

// TimeoutPort bounds reads on a serial style stream. The wrapped stream is expected
// to return (0, nil) when its own short poll interval elapses without data, the way
// a serial port with a read timeout does. TimeoutPort turns a run of such empty
// reads into ErrReadTimeout once the configured window expires. Writes pass through
// untouched; on this bus the hang risk is always on the response side.
type TimeoutPort struct {
	inner   io.ReadWriter
	timeout time.Duration
}

func NewTimeoutPort(inner io.ReadWriter, timeout time.Duration) *TimeoutPort {
	return &TimeoutPort{
		inner:   inner,
		timeout: timeout,
	}
}

func (p *TimeoutPort) Read(b []byte) (int, error) {
	// The window is armed by the first empty poll, not by the call itself, so a
	// read that finds data immediately never pays for a timer.
	var deadline time.Time
	for {
		n, err := p.inner.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		now := time.Now()
		if deadline.IsZero() {
			deadline = now.Add(p.timeout)
		} else if !now.Before(deadline) {
			return 0, ErrReadTimeout
		}
	}
}

func (p *TimeoutPort) Write(b []byte) (int, error) {
	return p.inner.Write(b)
}
