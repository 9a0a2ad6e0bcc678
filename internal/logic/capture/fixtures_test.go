package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// fakeClock is a settable clock shared by a MemStore and a Normalizer.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemFixture() (*MemStore, *fakeClock) {
	clock := &fakeClock{now: t0}
	s := NewMemStore()
	s.Now = clock.Now
	return s, clock
}

// noiseImage fills an image with pseudo-random mid-to-bright pixels.
func noiseImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for i := 0; i < len(img.Pix); i += 4 {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = 60 + uint8(seed>>24)%190
		img.Pix[i+1] = 60 + uint8(seed>>16)%190
		img.Pix[i+2] = 60 + uint8(seed>>8)%190
		img.Pix[i+3] = 255
	}
	return img
}

func brightJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noiseImage(160, 120), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// blackFrame starts like a JPEG and is all zero bytes afterwards.
func blackFrame() []byte {
	return append([]byte{0xFF, 0xD8}, make([]byte, 3000)...)
}

// fakeInvoker writes scripted frames into a MemStore.
type fakeInvoker struct {
	store  *MemStore
	frames [][]byte
	ext    string // written extension, "" keeps dest
	err    error
	after  func(name string) // runs after the frame is written

	mu    sync.Mutex
	dests []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, deviceID, dest string) (string, error) {
	f.mu.Lock()
	f.dests = append(f.dests, dest)
	n := len(f.dests)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	frame := f.frames[len(f.frames)-1]
	if n <= len(f.frames) {
		frame = f.frames[n-1]
	}
	name := dest
	if f.ext != "" {
		name = strings.TrimSuffix(dest, ".jpg") + f.ext
	}
	if err := f.store.Write(name, frame); err != nil {
		return "", err
	}
	if f.after != nil {
		f.after(name)
	}
	return name, nil
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dests)
}

// sequentialIDs returns distinct, predictable session identifiers.
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("1773480413000_s%05d", n)
	}
}

func newTestOrchestrator(store *MemStore, clock *fakeClock, inv Invoker) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(store, inv)
	o.Normalizer.Now = clock.Now
	o.NewSessionID = sequentialIDs()
	var sleeps []time.Duration
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return ctx.Err()
	}
	return o, &sleeps
}

func names(t *testing.T, s Store) []string {
	t.Helper()
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
