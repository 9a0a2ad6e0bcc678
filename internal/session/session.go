// Package session runs the interactive capture-and-ask loop in a terminal.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
	"github.com/cjeanneret/camask/internal/hw/camera"
	"github.com/cjeanneret/camask/internal/logic/capture"
	"github.com/cjeanneret/camask/internal/vision"
)

// Capturer produces one accepted artifact per call. *capture.Orchestrator
// satisfies it.
type Capturer interface {
	CaptureOne(ctx context.Context, deviceID string) (*capture.Artifact, error)
	Release(a *capture.Artifact) error
}

// DeviceLister enumerates cameras. camera.Driver satisfies it.
type DeviceLister interface {
	ListDevices(ctx context.Context) []camera.Device
}

// Session wires the capture pipeline to the vision analyzer.
// Only one capture-and-ask runs at a time.
type Session struct {
	Devices  DeviceLister
	Capturer Capturer
	Analyzer vision.Analyzer

	PreferredDevice string
	KeepDir         string // accepted JPEGs are copied here when set
	Color           bool

	mu     sync.Mutex // serializes Ask
	device camera.Device
}

// ColorEnabled reports whether f is an interactive terminal.
func ColorEnabled(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Device returns the selected device.
func (s *Session) Device() camera.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// SelectDevice enumerates cameras and picks one, asking through choose when
// several are attached and none is preferred.
func (s *Session) SelectDevice(ctx context.Context, choose camera.Chooser) (camera.Device, error) {
	devices := s.Devices.ListDevices(ctx)
	d, err := camera.Select(devices, s.PreferredDevice, choose)
	if err != nil {
		return camera.Device{}, err
	}
	s.mu.Lock()
	s.device = d
	s.mu.Unlock()
	return d, nil
}

// Ask captures one frame from the selected device, sends it with prompt to
// the analyzer and returns the answer. The artifact is released before
// Ask returns, whatever the outcome.
func (s *Session) Ask(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device.ID == "" {
		return "", apperrors.NewDeviceError("no camera device selected", nil)
	}

	art, err := s.Capturer.CaptureOne(ctx, s.device.ID)
	if err != nil {
		debug.WithError(err).WithField("device", s.device.ID).Warn("capture failed")
		return "", err
	}
	defer func() {
		if err := s.Capturer.Release(art); err != nil {
			debug.Error(err)
		}
	}()

	if s.KeepDir != "" {
		if err := keep(s.KeepDir, art); err != nil {
			debug.Error(err)
		}
	}
	answer, err := s.Analyzer.Analyze(ctx, art.Data, prompt)
	if err != nil {
		debug.WithError(err).WithField("session", art.SessionID).Warn("analysis failed")
	}
	return answer, err
}

// keep copies an accepted JPEG into dir under its artifact name.
func keep(dir string, art *capture.Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("keep dir: %w", err)
	}
	dest := filepath.Join(dir, art.Name)
	if err := os.WriteFile(dest, art.Data, 0o644); err != nil {
		return fmt.Errorf("keep %s: %w", art.Name, err)
	}
	debug.Info("Saved %s", dest)
	return nil
}

const helpText = `Commands:
  <enter>        capture and describe with the default prompt
  <any text>     capture and ask that question about the image
  d              choose another camera
  h, ?           show this help
  q, quit        exit`

// Run reads commands from in until EOF, "q" or ctx cancellation.
// Failures are printed as one "error:" line and the loop continues.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	t := &term{out: out, color: s.Color}
	lines := newLineReader(ctx, in)

	chooser := func(devices []camera.Device) (int, error) {
		t.println("Cameras:")
		for i, d := range devices {
			t.printf("  %d) %s [%s]\n", i+1, d.DisplayName, d.ID)
		}
		t.prompt(fmt.Sprintf("Select camera [1-%d]: ", len(devices)))
		line, err := lines.next()
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", strings.TrimSpace(line))
		}
		return n - 1, nil
	}

	t.title("camask")
	if d, err := s.SelectDevice(ctx, chooser); err != nil {
		t.errorf(err)
	} else {
		t.printf("Camera: %s\n", d.DisplayName)
	}
	t.println(`Press enter to capture, type a question, or "h" for help.`)

	for {
		t.prompt("> ")
		line, err := lines.next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				t.println("")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "q", "quit", "exit":
			return nil
		case "h", "?", "help":
			t.println(helpText)
			continue
		case "d":
			s.PreferredDevice = ""
			if d, err := s.SelectDevice(ctx, chooser); err != nil {
				t.errorf(err)
			} else {
				t.printf("Camera: %s\n", d.DisplayName)
			}
			continue
		}

		t.dim("Capturing...")
		answer, err := s.Ask(ctx, input)
		if err != nil {
			t.errorf(err)
			continue
		}
		t.answer(answer)
	}
}

// lineReader delivers stdin lines and gives up when ctx is cancelled.
type lineReader struct {
	ctx   context.Context
	lines chan string
	err   chan error
}

func newLineReader(ctx context.Context, in io.Reader) *lineReader {
	r := &lineReader{ctx: ctx, lines: make(chan string), err: make(chan error, 1)}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case r.lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			r.err <- err
			return
		}
		r.err <- io.EOF
	}()
	return r
}

func (r *lineReader) next() (string, error) {
	select {
	case line := <-r.lines:
		return line, nil
	case err := <-r.err:
		return "", err
	case <-r.ctx.Done():
		return "", r.ctx.Err()
	}
}
