package options

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.bug.st/serial"

	"liftgateway/cmd/liftgateway/config"
	"liftgateway/pkg/broker"
	"liftgateway/pkg/generic/options"
	"liftgateway/pkg/lift"
	"liftgateway/pkg/transport"
)

type Options struct {
	SerialPort    string        `json:"serial-port"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Prefix        string        `json:"prefix"`
	HassPrefix    string        `json:"hass-prefix"`
	MqttHost      string        `json:"mqtt-host"`
	MqttPort      int           `json:"mqtt-port"`
	MqttTransport string        `json:"mqtt-transport"`
	MqttUsername  string        `json:"mqtt-username"`
	MqttPassword  string        `json:"mqtt-password"`
	Wait          time.Duration `json:"graceful-timeout"`
	options.BaseOptions
}

const (
	_defaultPrefix     = "desk"
	_defaultHassPrefix = "homeassistant"
	_defaultTransport  = string(broker.TransportTLS)
	_defaultWait       = 15 * time.Second

	_baudRate        = 57600
	_serialPollEvery = 250 * time.Millisecond
	_responseWindow  = 500 * time.Millisecond
)

func NewDefaultOptions() *Options {
	return &Options{
		Prefix:        _defaultPrefix,
		HassPrefix:    _defaultHassPrefix,
		MqttTransport: _defaultTransport,
		Wait:          _defaultWait,
		BaseOptions:   options.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.SerialPort, "serial-port", "s", o.SerialPort, "Serial device of the lift controller - e.g. /dev/ttyUSB0")
	fs.StringVar(&o.ID, "id", o.ID, "Device id, used in topic paths and discovery unique ids")
	fs.StringVar(&o.Name, "name", o.Name, "Human readable device name; defaults to the id")
	fs.StringVar(&o.Prefix, "prefix", o.Prefix, "Topic prefix for state and command topics")
	fs.StringVar(&o.HassPrefix, "hass-prefix", o.HassPrefix, "Home Assistant discovery prefix; empty disables discovery")
	fs.StringVar(&o.MqttHost, "mqtt-host", o.MqttHost, "MQTT broker host")
	fs.IntVar(&o.MqttPort, "mqtt-port", o.MqttPort, "MQTT broker port; 0 picks the transport default")
	fs.StringVar(&o.MqttTransport, "mqtt-transport", o.MqttTransport, "MQTT transport, tcp or tls")
	fs.StringVar(&o.MqttUsername, "mqtt-username", o.MqttUsername, "MQTT username")
	fs.StringVar(&o.MqttPassword, "mqtt-password", o.MqttPassword, "MQTT password")
	fs.DurationVar(&o.Wait, "graceful-timeout", o.Wait, "The duration for which the gateway gracefully waits for the serving loops to finish - e.g. 15s or 1m")
}

// Config opens the serial port and assembles the two serving loops around the
// shared command and height channels.
func (o *Options) Config() (*config.Config, error) {
	mode := &serial.Mode{
		BaudRate: _baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	stream, err := serial.Open(o.SerialPort, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", o.SerialPort)
	}
	// short poll so the timeout adapter sees (0, nil) while the bus is quiet
	if err := stream.SetReadTimeout(_serialPollEvery); err != nil {
		return nil, errors.Wrapf(err, "set read timeout on %s", o.SerialPort)
	}

	port := transport.NewTransferPort(transport.NewTimeoutPort(stream, _responseWindow))

	// commands buffers two so a press queued behind a running cycle survives;
	// heights holds only the newest reading
	commands := make(chan lift.Command, 2)
	heights := make(chan float64, 1)

	name := o.Name
	if len(name) == 0 {
		name = o.ID
	}
	coordinator := broker.New(broker.Config{
		Host:       o.MqttHost,
		Port:       o.MqttPort,
		Transport:  broker.Transport(o.MqttTransport),
		Username:   o.MqttUsername,
		Password:   o.MqttPassword,
		ID:         o.ID,
		Name:       name,
		Prefix:     o.Prefix,
		HassPrefix: o.HassPrefix,
	}, commands, heights)

	return &config.Config{
		Port:        port,
		Controller:  lift.NewController(port, commands, heights),
		Coordinator: coordinator,
	}, nil
}
