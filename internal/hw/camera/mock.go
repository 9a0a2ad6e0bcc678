package camera

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/bmp"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// Mock is a driver for development without a camera.
// It renders a test card and writes it as JPEG, or as BMP when BMP is set
// (mimicking tools that ignore the requested extension).
type Mock struct {
	opts Options
	BMP  bool

	mu    sync.Mutex
	shots int
}

// NewMock creates the mock driver.
func NewMock(opts Options) *Mock {
	debug.Info("Using MOCK camera driver (development mode)")
	return &Mock{opts: opts}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) ListDevices(ctx context.Context) []Device {
	return []Device{{ID: "mock0", DisplayName: "Mock Test Card"}}
}

// Shots returns how many frames were written.
func (m *Mock) Shots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shots
}

func (m *Mock) Invoke(ctx context.Context, deviceID, dest string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewCaptureError("mock capture cancelled", err)
	}

	m.mu.Lock()
	m.shots++
	shot := m.shots
	m.mu.Unlock()

	img := TestCard(m.opts.WidthPx, m.opts.HeightPx, shot)
	out := dest
	if m.BMP {
		out = strings.TrimSuffix(dest, filepath.Ext(dest)) + ".bmp"
	}

	f, err := os.Create(out)
	if err != nil {
		return "", apperrors.NewCaptureError("mock capture", err)
	}
	if m.BMP {
		err = bmp.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: m.opts.JPEGQuality})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", apperrors.NewCaptureError("mock capture", err)
	}
	debug.Verbose("Camera: mock frame %d written to %s", shot, out)
	return out, nil
}

var cardBars = []color.RGBA{
	{235, 235, 235, 255},
	{235, 235, 16, 255},
	{16, 235, 235, 255},
	{16, 235, 16, 255},
	{235, 16, 235, 255},
	{235, 16, 16, 255},
	{16, 16, 235, 255},
}

// TestCard renders colour bars over the top two thirds and a textured
// gradient below. seed shifts the texture so successive frames differ.
func TestCard(w, h, seed int) *image.RGBA {
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barW := (w + len(cardBars) - 1) / len(cardBars)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y < h*2/3 {
				img.SetRGBA(x, y, cardBars[x/barW])
				continue
			}
			v := uint8((x*255/w + (x*7^y*13+seed*31)%64) % 256)
			img.SetRGBA(x, y, color.RGBA{v, 255 - v, uint8((x + y + seed) % 256), 255})
		}
	}
	return img
}
