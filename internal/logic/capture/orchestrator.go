package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
	"github.com/cjeanneret/camask/internal/idgen"
)

// Defaults of the capture pipeline. Each one is overridable from config.
const (
	DefaultMaxAttempts     = 3
	DefaultSettleDelay     = time.Second
	DefaultStaleAfter      = 5 * time.Second
	DefaultSweepAfter      = 30 * time.Second
	DefaultHeaderOffset    = 1000
	DefaultSampleWindow    = 1000
	DefaultDarkByte        = 20
	DefaultMaxDarkFraction = 0.90
	DefaultJPEGQuality     = 95
)

// State is the phase of one capture attempt.
type State int

const (
	StateIdle State = iota
	StateInvoking
	StateNormalizing
	StateQualityChecking
	StateAccepted
	StateRetryPending
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInvoking:
		return "Invoking"
	case StateNormalizing:
		return "Normalizing"
	case StateQualityChecking:
		return "QualityChecking"
	case StateAccepted:
		return "Accepted"
	case StateRetryPending:
		return "RetryPending"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Invoker runs the native capture tool. camera.Driver satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, deviceID, dest string) (string, error)
}

// Indicator signals that a capture is running (e.g. an LED).
type Indicator interface {
	On() error
	Off() error
}

// Artifact is an accepted capture. The caller owns it and must Release it.
type Artifact struct {
	SessionID string
	Name      string
	Path      string
	Format    Format
	Data      []byte
	Attempts  int
}

// Orchestrator composes invoker, normalizer and guard into a bounded
// retry loop. Only degenerate frames are retried; every other failure
// ends the capture. Attempts run sequentially; one Orchestrator must not
// be used for concurrent captures.
type Orchestrator struct {
	Store       Store
	Invoker     Invoker
	Normalizer  *Normalizer
	Guard       Guard
	MaxAttempts int
	SettleDelay time.Duration // multiplied by the attempt number
	SweepAfter  time.Duration
	Indicator   Indicator

	// NewSessionID defaults to idgen.NewSession.
	NewSessionID idgen.Generator
	// Sleep waits between attempts; it must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState, if set, observes every state transition.
	OnState func(sessionID string, attempt int, s State)
}

// NewOrchestrator returns an orchestrator with the default thresholds.
func NewOrchestrator(store Store, invoker Invoker) *Orchestrator {
	return &Orchestrator{
		Store:        store,
		Invoker:      invoker,
		Normalizer:   NewNormalizer(store),
		Guard:        DefaultGuard(),
		MaxAttempts:  DefaultMaxAttempts,
		SettleDelay:  DefaultSettleDelay,
		SweepAfter:   DefaultSweepAfter,
		NewSessionID: idgen.NewSession,
		Sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) transition(sessionID string, attempt int, s State) {
	debug.Attempt(sessionID, attempt, o.maxAttempts(), s.String())
	if o.OnState != nil {
		o.OnState(sessionID, attempt, s)
	}
}

// CaptureOne returns one JPEG artifact that passed the guard, or an error.
// Whatever happens, no file of a rejected attempt is left in the store.
func (o *Orchestrator) CaptureOne(ctx context.Context, deviceID string) (*Artifact, error) {
	if o.Indicator != nil {
		if err := o.Indicator.On(); err != nil {
			debug.Error(err)
		}
		defer func() {
			if err := o.Indicator.Off(); err != nil {
				debug.Error(err)
			}
		}()
	}

	maxAttempts := o.maxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewCaptureError("capture cancelled", err)
		}

		art, err := o.attempt(ctx, deviceID, attempt)
		if err == nil {
			return art, nil
		}
		if !apperrors.IsKind(err, apperrors.KindDegenerateFrame) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := o.SettleDelay * time.Duration(attempt)
		debug.Live("Degenerate frame, settling %v before attempt %d", delay, attempt+1)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, apperrors.NewCaptureError("capture cancelled", err)
		}
	}

	return nil, apperrors.NewCaptureError(
		fmt.Sprintf("capture failed after %d attempts", maxAttempts),
		apperrors.NewDegenerateFrameError("every frame was too dark"))
}

// attempt runs one Invoking → Normalizing → QualityChecking cycle.
// On any error the session's files are removed before returning.
func (o *Orchestrator) attempt(ctx context.Context, deviceID string, attempt int) (art *Artifact, err error) {
	if _, err := o.Store.Sweep(o.sweepAfter()); err != nil {
		debug.Error(err)
	}

	sid := o.newSessionID()
	o.transition(sid, attempt, StateIdle)
	defer func() {
		if err != nil {
			debug.WithError(err).WithFields(debug.Fields{
				"session": sid,
				"attempt": attempt,
			}).Warn("attempt rejected")
			removeSession(o.Store, sid)
			if !apperrors.IsKind(err, apperrors.KindDegenerateFrame) || attempt >= o.maxAttempts() {
				o.transition(sid, attempt, StateFailed)
			}
		}
	}()

	h := o.Store.Put(sid)

	o.transition(sid, attempt, StateInvoking)
	reported, err := o.Invoker.Invoke(ctx, deviceID, o.Store.Path(h.Name))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindDevice) || apperrors.IsKind(err, apperrors.KindCapture) {
			return nil, err
		}
		return nil, apperrors.NewCaptureError("capture tool failed", err)
	}

	o.transition(sid, attempt, StateNormalizing)
	if _, err := o.Normalizer.Normalize(reported, sid); err != nil {
		return nil, err
	}

	o.transition(sid, attempt, StateQualityChecking)
	final := Handle{SessionID: sid, Name: FinalName(sid)}
	data, err := o.Store.Resolve(final)
	if err != nil {
		return nil, apperrors.NewNormalizationError("read "+final.Name, err)
	}
	if Sniff(data) != FormatJPEG {
		return nil, apperrors.NewNormalizationError(final.Name+" is not a JPEG", apperrors.ErrUnsupportedFormat)
	}
	if o.Guard.IsDegenerate(data) {
		if debug.IsEnabled(debug.LevelVerbose) {
			debug.Verbose("Guard: %s dark fraction %.2f", final.Name, o.Guard.DarkFraction(data))
		}
		if attempt < o.maxAttempts() {
			o.transition(sid, attempt, StateRetryPending)
		}
		return nil, apperrors.NewDegenerateFrameError("frame " + sid + " is degenerate")
	}

	o.transition(sid, attempt, StateAccepted)
	debug.Info("Captured %s (%d bytes, attempt %d)", final.Name, len(data), attempt)
	return &Artifact{
		SessionID: sid,
		Name:      final.Name,
		Path:      o.Store.Path(final.Name),
		Format:    FormatJPEG,
		Data:      data,
		Attempts:  attempt,
	}, nil
}

// Release deletes an accepted artifact. Releasing twice is not an error.
func (o *Orchestrator) Release(a *Artifact) error {
	if a == nil {
		return nil
	}
	if err := o.Store.Remove(a.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release %s: %w", a.Name, err)
	}
	return nil
}

func (o *Orchestrator) maxAttempts() int {
	if o.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return o.MaxAttempts
}

func (o *Orchestrator) sweepAfter() time.Duration {
	if o.SweepAfter <= 0 {
		return DefaultSweepAfter
	}
	return o.SweepAfter
}

func (o *Orchestrator) newSessionID() string {
	if o.NewSessionID == nil {
		return idgen.NewSession()
	}
	return o.NewSessionID()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep == nil {
		return sleepCtx(ctx, d)
	}
	return o.Sleep(ctx, d)
}
