package camera

import (
	"fmt"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// Chooser asks the user to pick one of several devices and returns its index.
type Chooser func(devices []Device) (int, error)

// Select picks the device to capture from.
// A preferred ID wins when it is listed. A single device is chosen without
// asking. Otherwise choose decides; a nil chooser takes the first device.
func Select(devices []Device, preferred string, choose Chooser) (Device, error) {
	if len(devices) == 0 {
		return Device{}, apperrors.NewDeviceError("no camera device available", nil)
	}

	if preferred != "" {
		for _, d := range devices {
			if d.ID == preferred {
				debug.Info("Camera: using configured device %s (%s)", d.ID, d.DisplayName)
				return d, nil
			}
		}
		return Device{}, apperrors.NewDeviceError(fmt.Sprintf("camera device %q not found", preferred), nil)
	}

	if len(devices) == 1 || choose == nil {
		debug.Info("Camera: using %s (%s)", devices[0].ID, devices[0].DisplayName)
		return devices[0], nil
	}

	idx, err := choose(devices)
	if err != nil {
		return Device{}, apperrors.NewDeviceError("device selection failed", err)
	}
	if idx < 0 || idx >= len(devices) {
		return Device{}, apperrors.NewDeviceError(fmt.Sprintf("device choice %d out of range", idx+1), nil)
	}
	return devices[idx], nil
}
