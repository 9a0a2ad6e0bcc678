package gpio

import "github.com/cjeanneret/camask/internal/debug"

// Indicator is a status LED on one output pin, lit while a capture runs.
// A nil *Indicator is valid and does nothing.
type Indicator struct {
	drv Driver
	pin int
}

// NewIndicator configures pin as an output and switches it off.
// Pin 0 disables the indicator and returns nil.
func NewIndicator(drv Driver, pin int) (*Indicator, error) {
	if pin == 0 || drv == nil {
		return nil, nil
	}
	if err := drv.SetupPin(pin, Output); err != nil {
		return nil, err
	}
	if err := drv.WritePin(pin, Low); err != nil {
		return nil, err
	}
	debug.Verbose("GPIO: indicator on pin %d", pin)
	return &Indicator{drv: drv, pin: pin}, nil
}

// On lights the LED.
func (i *Indicator) On() error {
	if i == nil {
		return nil
	}
	return i.drv.WritePin(i.pin, High)
}

// Off switches the LED off.
func (i *Indicator) Off() error {
	if i == nil {
		return nil
	}
	return i.drv.WritePin(i.pin, Low)
}
