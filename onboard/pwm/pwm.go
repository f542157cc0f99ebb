// Package pwm drives hobby servos through the Linux sysfs PWM interface and
// switches their power rails through sysfs GPIO. It is the hardware side of
// the servo.Actuation contract; everything above it works in logical degrees.
package pwm

import (
	"errors"
	"time"
)

const (
	// standard 50Hz servo frame
	framePeriod = 20 * time.Millisecond

	// pulse widths for the ends of the travel, the usual 544-2400us band
	pulseMin = 544 * time.Microsecond
	pulseMax = 2400 * time.Microsecond

	sweepDeg = 180
)

var (
	ErrUnsupported = errors.New("sysfs pwm is only available on linux")
)

// dutyForPosition converts a position in degrees to a pulse width in
// nanoseconds. Positions outside the sweep are pinned to the band edges so a
// bad write can never command an out-of-band pulse.
func dutyForPosition(position int) int64 {
	if position < 0 {
		position = 0
	}
	if position > sweepDeg {
		position = sweepDeg
	}

	span := int64(pulseMax - pulseMin)
	return int64(pulseMin) + span*int64(position)/sweepDeg
}
