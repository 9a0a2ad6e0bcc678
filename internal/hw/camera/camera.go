package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cjeanneret/camask/internal/debug"
)

// Device describes one camera the native tools can address.
// ID is the handle passed to the driver (an index, a device path or a name).
type Device struct {
	ID          string
	DisplayName string
}

// Driver is the platform-specific capture capability.
// It hides which native executable is used and how device handles are translated.
type Driver interface {
	// Name returns the platform tag of the driver (e.g. "linux").
	Name() string

	// ListDevices returns the attached cameras. The list is never empty:
	// when nothing is found a single default device is returned.
	ListDevices(ctx context.Context) []Device

	// Invoke captures one still from deviceID into dest and returns the path
	// the tool reports. Callers must not trust that path to exist.
	Invoke(ctx context.Context, deviceID, dest string) (string, error)
}

// Options are the capture settings shared by every driver.
type Options struct {
	WidthPx     int
	HeightPx    int
	JPEGQuality int
	SkipFrames  int           // frames discarded before the kept one (raspberry)
	Warmup      time.Duration // pre-capture delay (raspberry, darwin, windows)
}

// DefaultDevice is returned when enumeration finds nothing.
var DefaultDevice = Device{ID: "0", DisplayName: "Default Camera"}

// placeholderName is used when the OS cannot provide a friendly name.
func placeholderName(i int) string {
	return fmt.Sprintf("Camera %d", i+1)
}

func orDefault(devices []Device) []Device {
	if len(devices) == 0 {
		debug.Verbose("Camera: no device found, using default")
		return []Device{DefaultDevice}
	}
	return devices
}

// modelPath holds the board description on single-board computers.
var modelPath = "/proc/device-tree/model"

// ResolvePlatform turns a configured platform tag into a concrete one.
// "auto" is resolved from runtime.GOOS; Linux boards whose device-tree
// model mentions a Raspberry Pi get the embedded profile.
func ResolvePlatform(tag string) string {
	return resolvePlatform(tag, runtime.GOOS, func() ([]byte, error) {
		return os.ReadFile(modelPath)
	})
}

func resolvePlatform(tag, goos string, readModel func() ([]byte, error)) string {
	if tag != "" && tag != "auto" {
		return tag
	}
	switch goos {
	case "darwin":
		return "darwin"
	case "windows":
		return "windows"
	case "linux":
		if model, err := readModel(); err == nil && bytes.Contains(model, []byte("Raspberry Pi")) {
			return "raspberry"
		}
		return "linux"
	default:
		return "mock"
	}
}

// NewDriver creates the driver for a platform tag.
// If runner is nil, native commands are executed with ExecRunner.
func NewDriver(tag string, opts Options, runner CommandRunner) (Driver, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	platform := ResolvePlatform(tag)
	debug.Value("Camera platform", platform)

	switch platform {
	case "linux":
		return NewV4L2(opts, runner, false), nil
	case "raspberry":
		return NewV4L2(opts, runner, true), nil
	case "darwin":
		return NewImageSnap(opts, runner), nil
	case "windows":
		return NewCommandCam(opts, runner), nil
	case "mock":
		return NewMock(opts), nil
	default:
		return nil, fmt.Errorf("unsupported camera platform: %s", platform)
	}
}
