package lift

import (
	"errors"
	"time"
)

var ErrCommandChannelClosed = errors.New("Command channel closed\n")

const (
	// the lift controller always answers at address 1
	slaveID = 0x01

	// every exchange is one combined read/write: read 20 registers at the
	// display block, write a 14 register control frame at the command block
	readBase     = 0x09c4
	readQuantity = 20
	writeBase    = 0x0a8c

	driveInterval = 500 * time.Millisecond
)

// Command selects a stored preset to drive toward, or a plain refresh cycle
// that only reads the current height.
type Command int

const (
	Refresh Command = iota
	Preset1
	Preset2
	Preset3
	Preset4
)

func (c Command) String() string {
	switch c {
	case Refresh:
		return "refresh"
	case Preset1:
		return "preset1"
	case Preset2:
		return "preset2"
	case Preset3:
		return "preset3"
	case Preset4:
		return "preset4"
	}
	return "unknown"
}

// The control frames are fixed tables captured from the vendor handset.
// Register 2 carries the motion code, register 3 echoes it once the handset
// commits to the motion; the trailing block is constant filler the controller
// expects on every frame.

var wakeFrame = [14]uint16{
	0x0000, 0x0000, 0x0009, 0x0000, 0x0008, 0x0005, 0x0001, 0x005a, 0x0011, 0x0008, 0x0017, 0x0000,
	0x0000, 0x0000,
}

var idleFrame = [14]uint16{
	0x0000, 0x0000, 0x0000, 0x0000, 0x0008, 0x0005, 0x0001, 0x005a, 0x0011, 0x0008, 0x0017, 0x0000,
	0x0000, 0x0000,
}

// Profile is the frame pair for one stored preset: the lead frame announces
// the motion, the drive frame repeats it until the actuator settles.
type Profile struct {
	Lead  [14]uint16
	Drive [14]uint16
}

func presetProfile(code uint16) Profile {
	p := Profile{Lead: idleFrame, Drive: idleFrame}
	p.Lead[2] = code
	p.Drive[2] = code
	p.Drive[3] = code
	return p
}

var presetProfiles = map[Command]Profile{
	Preset1: presetProfile(0x0001),
	Preset2: presetProfile(0x0002),
	Preset3: presetProfile(0x0003),
	Preset4: presetProfile(0x0004),
}
