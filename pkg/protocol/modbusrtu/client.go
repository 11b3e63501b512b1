package modbusrtu

import (
	"io"

	"github.com/goburrow/modbus"
	"k8s.io/klog/v2"

	"liftgateway/pkg/utils/binutil"
)

// Client is a register-level RTU master bound to one slave over a borrowed
// stream. Framing, CRC, and exception decoding come from goburrow/modbus; the
// transport underneath is whatever handle the caller connected with.
type Client struct {
	slaveID byte
	client  modbus.Client
}

// ConnectSlave builds an RTU client addressed to slaveID on top of conn.
// "Connect" is a protocol-level notion here: nothing is opened, and Disconnect
// never closes the stream.
func ConnectSlave(conn io.ReadWriter, slaveID byte) *Client {
	handler := modbus.NewRTUClientHandler("")
	handler.SlaveId = slaveID
	return &Client{
		slaveID: slaveID,
		client:  modbus.NewClient2(handler, NewTransporter(conn)),
	}
}

// ReadWriteMultipleRegisters performs the combined function 0x17 exchange: the
// write block is applied first by the device, then the read block is returned.
func (c *Client) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error) {
	data, err := c.client.ReadWriteMultipleRegisters(
		readAddress, readQuantity, writeAddress, uint16(len(values)), binutil.WordsToBytes(values))
	if err != nil {
		return nil, err
	}
	if len(data) < 2*int(readQuantity) {
		klog.V(2).InfoS("Rtu response carries fewer registers than requested",
			"want", readQuantity, "bytes", len(data))
		return nil, ErrResponseTooShort
	}
	return binutil.BytesToWords(data), nil
}

// Disconnect ends the protocol conversation. The underlying stream stays open;
// reclaiming it is the transfer port's job.
func (c *Client) Disconnect() error {
	klog.V(4).InfoS("Disconnected rtu client", "slaveId", c.slaveID)
	return nil
}
