package camera

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// V4L2 drives fswebcam against Video4Linux device nodes.
// The embedded profile (Raspberry Pi and other low-cost sensors) discards
// a run of frames and waits before keeping one.
type V4L2 struct {
	opts      Options
	runner    CommandRunner
	embedded  bool
	devDir    string // where videoN nodes live
	sysfsRoot string // where videoN/name files live
}

// NewV4L2 creates a fswebcam driver. embedded selects the warm-up profile.
func NewV4L2(opts Options, runner CommandRunner, embedded bool) *V4L2 {
	return &V4L2{
		opts:      opts,
		runner:    runner,
		embedded:  embedded,
		devDir:    "/dev",
		sysfsRoot: "/sys/class/video4linux",
	}
}

func (v *V4L2) Name() string {
	if v.embedded {
		return "raspberry"
	}
	return "linux"
}

// ListDevices probes /dev/video* nodes and reads their sysfs names.
// Device IDs are the node indexes ("0" for /dev/video0).
func (v *V4L2) ListDevices(ctx context.Context) []Device {
	nodes, err := filepath.Glob(filepath.Join(v.devDir, "video*"))
	if err != nil {
		debug.Error(err)
		return orDefault(nil)
	}

	type node struct {
		index int
		base  string
	}
	var found []node
	for _, path := range nodes {
		base := filepath.Base(path)
		idx, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}
		found = append(found, node{index: idx, base: base})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })

	devices := make([]Device, 0, len(found))
	for i, n := range found {
		name := placeholderName(i)
		if data, err := os.ReadFile(filepath.Join(v.sysfsRoot, n.base, "name")); err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				name = s
			}
		}
		devices = append(devices, Device{ID: strconv.Itoa(n.index), DisplayName: name})
	}
	debug.Verbose("Camera: %d v4l2 node(s) found", len(devices))
	return orDefault(devices)
}

// devicePath translates a device ID into a device node path.
func (v *V4L2) devicePath(id string) string {
	if filepath.IsAbs(id) {
		return id
	}
	return filepath.Join(v.devDir, "video"+id)
}

func (v *V4L2) args(device, dest string) []string {
	skip, delay := "1", "0"
	if v.embedded {
		skip = strconv.Itoa(v.opts.SkipFrames)
		secs := int(v.opts.Warmup.Seconds())
		if secs < 1 {
			secs = 1
		}
		delay = strconv.Itoa(secs)
	}
	return []string{
		"--no-banner",
		"-r", strconv.Itoa(v.opts.WidthPx) + "x" + strconv.Itoa(v.opts.HeightPx),
		"--jpeg", strconv.Itoa(v.opts.JPEGQuality),
		"-D", delay,
		"-S", skip,
		"-d", device,
		dest,
	}
}

// Invoke runs fswebcam once. fswebcam writes exactly dest.
func (v *V4L2) Invoke(ctx context.Context, deviceID, dest string) (string, error) {
	if deviceID == "" {
		return "", apperrors.NewDeviceError("no camera device selected", nil)
	}
	device := v.devicePath(deviceID)
	debug.Verbose("Camera: fswebcam on %s -> %s", device, dest)

	if _, err := v.runner.Run(ctx, "fswebcam", v.args(device, dest)...); err != nil {
		return "", apperrors.NewCaptureError("fswebcam failed on "+device, err)
	}
	return dest, nil
}
