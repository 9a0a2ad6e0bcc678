package camera

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// listCamerasPS lists imaging devices from the PnP registry, one name per line.
const listCamerasPS = `Get-CimInstance Win32_PnPEntity | ` +
	`Where-Object { $_.PNPClass -eq 'Camera' -or $_.PNPClass -eq 'Image' } | ` +
	`Select-Object -ExpandProperty Name`

// CommandCam drives CommandCam.exe on Windows. It always writes BMP,
// so the reported path differs from the requested one.
type CommandCam struct {
	opts   Options
	runner CommandRunner
}

// NewCommandCam creates the Windows driver.
func NewCommandCam(opts Options, runner CommandRunner) *CommandCam {
	return &CommandCam{opts: opts, runner: runner}
}

func (d *CommandCam) Name() string { return "windows" }

// ListDevices queries the driver registry through PowerShell.
func (d *CommandCam) ListDevices(ctx context.Context) []Device {
	out, err := d.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", listCamerasPS)
	if err != nil {
		debug.Error(err)
		return orDefault(nil)
	}

	var devices []Device
	for _, line := range strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		devices = append(devices, Device{ID: strconv.Itoa(len(devices)), DisplayName: name})
	}
	return orDefault(devices)
}

// Invoke runs CommandCam once. Device IDs are zero-based; /devnum is one-based.
func (d *CommandCam) Invoke(ctx context.Context, deviceID, dest string) (string, error) {
	idx, err := strconv.Atoi(deviceID)
	if err != nil || idx < 0 {
		return "", apperrors.NewDeviceError("invalid device index "+strconv.Quote(deviceID), err)
	}
	out := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".bmp"
	delayMs := d.opts.Warmup.Milliseconds()

	_, err = d.runner.Run(ctx, "CommandCam",
		"/devnum", strconv.Itoa(idx+1),
		"/filename", out,
		"/delay", strconv.FormatInt(delayMs, 10),
	)
	if err != nil {
		return "", apperrors.NewCaptureError("CommandCam failed", err)
	}
	return out, nil
}
