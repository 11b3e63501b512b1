package lift

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"liftgateway/pkg/protocol/modbusrtu"
	"liftgateway/pkg/transport"
	"liftgateway/pkg/utils/channelutil"
)

// registerClient is the slice of the rtu client the engine uses.
type registerClient interface {
	ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error)
	Disconnect() error
}

// Controller owns the serial side of the gateway: it serves preset commands
// from the command channel one at a time, drives the actuator until the height
// readout settles, and reports every decoded height on the height channel.
//
// The wake exchange is the only self healing point. The controller routinely
// accepts but never acknowledges its first message after sitting idle, so wake
// retries unboundedly, reclaiming the stream on every failure. Everywhere else
// a transport or protocol error is fatal to the cycle and to the process:
// motion must not be retried blindly against unknown device state.
type Controller struct {
	port     *transport.TransferPort
	commands chan Command
	heights  chan float64

	// connect reclaims the stream and opens a protocol conversation;
	// tests substitute it
	connect  func() registerClient
	interval time.Duration
}

func NewController(port *transport.TransferPort, commands chan Command, heights chan float64) *Controller {
	c := &Controller{
		port:     port,
		commands: commands,
		heights:  heights,
		interval: driveInterval,
	}
	c.connect = func() registerClient {
		return modbusrtu.ConnectSlave(c.port.Take(), slaveID)
	}
	return c
}

// Run performs one refresh cycle so the height is reported before any command
// arrives, then serves commands until the context is canceled or a cycle
// fails.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.operate(ctx, Refresh); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-c.commands:
			if !ok {
				return ErrCommandChannelClosed
			}
			klog.V(1).InfoS("Serving command", "command", cmd)
			if err := c.operate(ctx, cmd); err != nil {
				return errors.Wrapf(err, "command %s", cmd)
			}
		}
	}
}

// operate runs one full control cycle: wake, idle, optionally drive to the
// preset until the height settles, idle again, disconnect.
func (c *Controller) operate(ctx context.Context, cmd Command) error {
	client := c.connect()

	for {
		if err := ctx.Err(); err != nil {
			_ = client.Disconnect()
			return err
		}
		_, err := c.transmit(client, &wakeFrame)
		if err == nil {
			break
		}
		klog.V(2).InfoS("Wake exchange failed, reclaiming stream", "error", err)
		_ = client.Disconnect()
		client = c.connect()
	}

	last, err := c.transmit(client, &idleFrame)
	if err != nil {
		return errors.Wrap(err, "idle exchange")
	}

	if profile, ok := presetProfiles[cmd]; ok {
		last, err = c.transmit(client, &profile.Lead)
		if err != nil {
			return errors.Wrap(err, "lead exchange")
		}

		// Two strikes to settle: the first repeated reading is the actuator
		// reporting before it starts moving, the second means it stopped.
		sinceChange := 0
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.interval):
			}
			reading, err := c.transmit(client, &profile.Drive)
			if err != nil {
				return errors.Wrap(err, "drive exchange")
			}
			if reading == last {
				if sinceChange >= 1 {
					klog.V(2).InfoS("Height settled", "height", reading.Inches(), "known", reading.Known)
					break
				}
				sinceChange++
			} else {
				sinceChange = 0
				last = reading
			}
		}

		if _, err := c.transmit(client, &idleFrame); err != nil {
			return errors.Wrap(err, "post-drive idle exchange")
		}
	}

	return client.Disconnect()
}

// transmit performs one combined register exchange and decodes the display
// block. Known readings are reported on the height channel; unknown readings
// are silent but still participate in the settling comparison.
func (c *Controller) transmit(client registerClient, frame *[14]uint16) (Reading, error) {
	registers, err := client.ReadWriteMultipleRegisters(readBase, readQuantity, writeBase, frame[:])
	if err != nil {
		return Reading{}, err
	}
	klog.V(4).InfoS("Exchange complete", "registers", registers)

	reading := DecodeDisplay(registers[0], registers[1])
	if reading.Known {
		channelutil.SendLatest(c.heights, reading.Inches())
	}
	return reading, nil
}
