package comms

import (
	"github.com/animatronic-io/servod/onboard"
	"github.com/animatronic-io/servod/onboard/servo"
)

// StatusPayload frames a single servo status report for the wire.
type StatusPayload struct {
	Type string `json:"type"`
	servo.Status
}

// StatePayload frames a full rig snapshot.
type StatePayload struct {
	Type   string           `json:"type"`
	Servos onboard.RigState `json:"servos"`
}
