package camera

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// ImageSnap drives imagesnap on macOS. Devices are addressed by name,
// so index IDs are translated through system_profiler.
type ImageSnap struct {
	opts   Options
	runner CommandRunner
}

// NewImageSnap creates the macOS driver.
func NewImageSnap(opts Options, runner CommandRunner) *ImageSnap {
	return &ImageSnap{opts: opts, runner: runner}
}

func (d *ImageSnap) Name() string { return "darwin" }

type spCameraReport struct {
	Cameras []struct {
		Name string `json:"_name"`
	} `json:"SPCameraDataType"`
}

// ListDevices queries the hardware inventory.
func (d *ImageSnap) ListDevices(ctx context.Context) []Device {
	out, err := d.runner.Run(ctx, "system_profiler", "SPCameraDataType", "-json")
	if err != nil {
		debug.Error(err)
		return orDefault(nil)
	}

	var report spCameraReport
	if err := json.Unmarshal(out, &report); err != nil {
		debug.Verbose("Camera: cannot parse system_profiler output: %v", err)
		return orDefault(nil)
	}

	devices := make([]Device, 0, len(report.Cameras))
	for i, c := range report.Cameras {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = placeholderName(i)
		}
		devices = append(devices, Device{ID: strconv.Itoa(i), DisplayName: name})
	}
	return orDefault(devices)
}

// deviceName translates an index ID into the name imagesnap expects.
// Non-numeric IDs are taken as names already.
func (d *ImageSnap) deviceName(ctx context.Context, id string) string {
	idx, err := strconv.Atoi(id)
	if err != nil {
		return id
	}
	devices := d.ListDevices(ctx)
	if idx < 0 || idx >= len(devices) || devices[idx] == DefaultDevice {
		return ""
	}
	return devices[idx].DisplayName
}

// Invoke runs imagesnap once; an empty name lets imagesnap pick its default camera.
func (d *ImageSnap) Invoke(ctx context.Context, deviceID, dest string) (string, error) {
	args := []string{"-w", strconv.FormatFloat(d.opts.Warmup.Seconds(), 'f', -1, 64)}
	if name := d.deviceName(ctx, deviceID); name != "" {
		args = append(args, "-d", name)
	}
	args = append(args, dest)

	if _, err := d.runner.Run(ctx, "imagesnap", args...); err != nil {
		return "", apperrors.NewCaptureError("imagesnap failed", err)
	}
	return dest, nil
}
