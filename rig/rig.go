// Package rig defines the bench's sensor channels and the port through which
// scripts read telemetry and command the motor.
package rig

import "fmt"

// Channel identifies one of the four bench sensors.
type Channel int

const (
	Cell1 Channel = iota // thrust load cell
	Cell2                // torque load cell
	Current
	Voltage
)

// Channels lists every channel in wire order.
var Channels = []Channel{Cell1, Cell2, Current, Voltage}

// NumChannels is the number of sensor channels on the bench.
const NumChannels = 4

var channelNames = [...]string{"cell1", "cell2", "current", "voltage"}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// sensorAliases maps READ_SENSOR names to channels. The load cells are also
// known by what they measure.
var sensorAliases = map[string]Channel{
	"cell1":   Cell1,
	"thrust":  Cell1,
	"cell2":   Cell2,
	"torque":  Cell2,
	"current": Current,
	"voltage": Voltage,
}

// LookupSensor resolves a sensor name as written in a script.
func LookupSensor(name string) (Channel, bool) {
	ch, ok := sensorAliases[name]
	return ch, ok
}

// Port is the bench as seen by the script interpreter. Implementations must be
// safe for concurrent use: the telemetry producer updates readings while a
// script reads them.
type Port interface {
	// Raw returns the latest reading of ch without calibration.
	Raw(ch Channel) (float64, error)
	// Calibrated returns the latest reading of ch minus its zero offset.
	Calibrated(ch Channel) (float64, error)
	// SetThrottle commands the motor. percent is always within [0,100].
	SetThrottle(percent int) error
}
