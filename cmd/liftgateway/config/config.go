package config

import (
	"liftgateway/pkg/broker"
	"liftgateway/pkg/lift"
	"liftgateway/pkg/transport"
)

// Config is the assembled runtime: the shared serial port and the two loops
// wired together over the command and height channels.
type Config struct {
	Port        *transport.TransferPort
	Controller  *lift.Controller
	Coordinator *broker.Coordinator
}
