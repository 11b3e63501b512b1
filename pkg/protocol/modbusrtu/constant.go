package modbusrtu

import "errors"

var ErrBadConn = errors.New("Rtu bad connection\n")
var ErrResponseTooShort = errors.New("Rtu response data length not enough\n")
var ErrUnsupportedFunction = errors.New("Rtu unsupported function code in response\n")

const (
	// address(1) + function(1) + data(<=252) + crc16(2)
	maxADULength = 256

	// slave + function + first data byte: enough to size the rest of the frame
	headerLength = 3

	exceptionFlag = 0x80

	// exception response: slave + function|0x80 + code + crc16
	exceptionLength = 5

	// echo responses (write single/multiple): slave + function + addr + value + crc16
	echoLength = 8
)
