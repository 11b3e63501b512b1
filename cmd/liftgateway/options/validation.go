package options

import (
	"fmt"

	"liftgateway/pkg/broker"
)

func Validate(o *Options) []error {
	var errs []error
	if len(o.SerialPort) == 0 {
		errs = append(errs, fmt.Errorf("--serial-port is required"))
	}
	if len(o.ID) == 0 {
		errs = append(errs, fmt.Errorf("--id is required"))
	}
	if len(o.MqttHost) == 0 {
		errs = append(errs, fmt.Errorf("--mqtt-host is required"))
	}
	switch broker.Transport(o.MqttTransport) {
	case broker.TransportTCP, broker.TransportTLS:
	default:
		errs = append(errs, fmt.Errorf("--mqtt-transport must be tcp or tls, got %q", o.MqttTransport))
	}
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}

	return errs
}
