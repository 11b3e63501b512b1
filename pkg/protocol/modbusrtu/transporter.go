package modbusrtu

import (
	"io"

	"k8s.io/klog/v2"
)

// Transporter moves RTU frames over an already open byte stream, typically a
// revocable port handle. It satisfies the transporter contract of
// github.com/goburrow/modbus so the library's framing can run on a stream it
// does not own; the stream's lifetime belongs to the transfer port, never to
// the Modbus client.
type Transporter struct {
	conn io.ReadWriter
}

func NewTransporter(conn io.ReadWriter) *Transporter {
	return &Transporter{conn: conn}
}

func (t *Transporter) Send(aduRequest []byte) ([]byte, error) {
	if _, err := t.conn.Write(aduRequest); err != nil {
		klog.V(2).InfoS("Failed to write frame to serial stream", "error", err)
		return nil, err
	}
	klog.V(5).InfoS("Sent frame", "bytes", aduRequest)

	header := make([]byte, headerLength)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		klog.V(2).InfoS("Failed to read frame header from serial stream", "error", err)
		return nil, err
	}

	length, err := responseLength(header)
	if err != nil {
		return nil, err
	}

	response := make([]byte, length)
	copy(response, header)
	if length > headerLength {
		if _, err := io.ReadFull(t.conn, response[headerLength:]); err != nil {
			klog.V(2).InfoS("Failed to read frame body from serial stream", "error", err)
			return nil, err
		}
	}
	klog.V(5).InfoS("Received frame", "bytes", response)
	return response, nil
}

// responseLength sizes the full ADU from the first three bytes. The lift
// controller only ever answers function 0x17, but the byte-count and echo
// classes cover the rest of the standard client functions.
func responseLength(header []byte) (int, error) {
	function := header[1]
	switch {
	case function&exceptionFlag != 0:
		return exceptionLength, nil
	case function == 0x01 || function == 0x02 || function == 0x03 || function == 0x04 || function == 0x17:
		// third byte is the data byte count
		length := int(header[2]) + exceptionLength
		if length > maxADULength {
			return 0, ErrBadConn
		}
		return length, nil
	case function == 0x05 || function == 0x06 || function == 0x0f || function == 0x10:
		return echoLength, nil
	default:
		klog.V(2).InfoS("Unexpected function code in response", "functionCode", function)
		return 0, ErrUnsupportedFunction
	}
}
