package ptz

import (
	"fmt"
	"strconv"
	"strings"
)

// Speed bounds accepted by the camera for every axis
const (
	SpeedMin = 0
	SpeedMax = 7
)

// Query parameter names of a move request
const (
	ParamLeft      = "left"
	ParamRight     = "right"
	ParamUp        = "up"
	ParamDown      = "down"
	ParamZoomIn    = "zin"
	ParamZoomOut   = "zout"
	ParamStop      = "stop"
	ParamLockToken = "lock_token"
)

// Command is one continuous motion request.
// Zero speed on an axis means no motion along it.
type Command struct {
	Left    int
	Right   int
	Up      int
	Down    int
	ZoomIn  int
	ZoomOut int
	Stop    bool
}

func (c Command) String() string {
	return fmt.Sprintf("left=%d, right=%d, up=%d, down=%d, in=%d, out=%d, stop=%t",
		c.Left, c.Right, c.Up, c.Down, c.ZoomIn, c.ZoomOut, c.Stop)
}

// ParseCommand reads a Command from raw query values.
// get returns "" for absent parameters, which default to 0.
func ParseCommand(get func(key string) string) (Command, error) {
	var cmd Command

	axes := []struct {
		param string
		dst   *int
	}{
		{ParamLeft, &cmd.Left},
		{ParamRight, &cmd.Right},
		{ParamUp, &cmd.Up},
		{ParamDown, &cmd.Down},
		{ParamZoomIn, &cmd.ZoomIn},
		{ParamZoomOut, &cmd.ZoomOut},
	}
	for _, axis := range axes {
		speed, err := parseSpeed(axis.param, get(axis.param))
		if err != nil {
			return Command{}, err
		}
		*axis.dst = speed
	}

	stop, err := parseStop(get(ParamStop))
	if err != nil {
		return Command{}, err
	}
	cmd.Stop = stop

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func parseSpeed(axis, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	// Only plain decimal digits, no sign
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, speedError(axis)
		}
	}
	speed, err := strconv.Atoi(raw)
	if err != nil || speed < SpeedMin || speed > SpeedMax {
		return 0, speedError(axis)
	}
	return speed, nil
}

func speedError(axis string) *Error {
	return Validationf("PTZ speed (%s axis) must be between %d and %d (int)", axis, SpeedMin, SpeedMax)
}

func parseStop(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false":
		return false, nil
	case "1", "true":
		return true, nil
	default:
		return false, Validationf("Stop must be either True or False")
	}
}

// Validate checks the invariants a command must hold before it is encoded
func (c Command) Validate() error {
	speeds := []struct {
		axis  string
		speed int
	}{
		{ParamLeft, c.Left},
		{ParamRight, c.Right},
		{ParamUp, c.Up},
		{ParamDown, c.Down},
		{ParamZoomIn, c.ZoomIn},
		{ParamZoomOut, c.ZoomOut},
	}
	for _, s := range speeds {
		if s.speed < SpeedMin || s.speed > SpeedMax {
			return speedError(s.axis)
		}
	}

	if c.Stop && c.moving() {
		return Validationf("All axis must be 0 when stop=True")
	}
	if c.Left > 0 && c.Right > 0 {
		return Validationf("left and right move are exclusive")
	}
	if c.Up > 0 && c.Down > 0 {
		return Validationf("up and down move are exclusive")
	}
	if c.ZoomIn > 0 && c.ZoomOut > 0 {
		return Validationf("zin and zout move are exclusive")
	}
	return nil
}

func (c Command) moving() bool {
	return c.Left != 0 || c.Right != 0 || c.Up != 0 || c.Down != 0 || c.ZoomIn != 0 || c.ZoomOut != 0
}
