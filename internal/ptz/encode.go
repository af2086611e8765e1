package ptz

import "fmt"

// DeviceCommandID prefixes every RCP+ PTZ payload (Bosch BiCom PTZ controller)
const DeviceCommandID = "0x800006011085"

// Axis descriptors of the BiCom PTZ instruction
const (
	descriptorLow  = 0 // left, down, zoom out
	descriptorHigh = 8 // right, up, zoom in
)

// Encode builds the RCP+ payload for an already validated command.
//
// Each axis is a descriptor digit followed by a speed digit, in the order
// pan, tilt, zoom. A stop command encodes as six zeros.
//
// Encode panics if cmd is invalid: callers must run Validate first.
func Encode(cmd Command) string {
	if err := cmd.Validate(); err != nil {
		panic(fmt.Sprintf("ptz: encoding invalid command (%s): %v", cmd, err))
	}

	var digits [6]int
	if !cmd.Stop {
		if cmd.Left > 0 {
			digits[0], digits[1] = descriptorLow, cmd.Left
		} else {
			digits[0], digits[1] = descriptorHigh, cmd.Right
		}
		if cmd.Up > 0 {
			digits[2], digits[3] = descriptorHigh, cmd.Up
		} else {
			digits[2], digits[3] = descriptorLow, cmd.Down
		}
		if cmd.ZoomIn > 0 {
			digits[4], digits[5] = descriptorHigh, cmd.ZoomIn
		} else {
			digits[4], digits[5] = descriptorLow, cmd.ZoomOut
		}
	}

	payload := make([]byte, 0, len(DeviceCommandID)+len(digits))
	payload = append(payload, DeviceCommandID...)
	for _, d := range digits {
		payload = append(payload, byte('0'+d))
	}
	return string(payload)
}
