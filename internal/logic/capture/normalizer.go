package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spakin/netpbm"
	"golang.org/x/image/bmp"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// probeExtensions are tried, in order, after the base name of a session's
// raw artifact when the reported path does not exist. "" is extensionless.
var probeExtensions = []string{".jpg", ".jpeg", ".bmp", ".ppm", ".png", ""}

// Normalizer turns whatever a native tool wrote into capture_<sid>.jpg.
type Normalizer struct {
	Store      Store
	StaleAfter time.Duration // artifacts older than this are rejected
	Quality    int           // JPEG quality for converted formats
	Now        func() time.Time
}

// NewNormalizer returns a normalizer with the default thresholds.
func NewNormalizer(store Store) *Normalizer {
	return &Normalizer{
		Store:      store,
		StaleAfter: DefaultStaleAfter,
		Quality:    DefaultJPEGQuality,
		Now:        time.Now,
	}
}

// Normalize locates the raw artifact of sessionID, checks that it is fresh
// and leaves exactly one JPEG, FinalName(sessionID), in the store.
// reported is the path the native tool claims to have written and is only
// a hint. The returned value is the store path of the JPEG.
func (n *Normalizer) Normalize(reported, sessionID string) (string, error) {
	final := FinalName(sessionID)

	name, entry, err := n.locate(reported, sessionID)
	if err != nil {
		return "", err
	}

	if age := n.now().Sub(entry.ModTime); age > n.StaleAfter {
		return "", apperrors.NewNormalizationError(
			fmt.Sprintf("%s is %v old (limit %v)", name, age.Round(time.Millisecond), n.StaleAfter),
			apperrors.ErrStaleArtifact)
	}

	data, err := n.Store.Read(name)
	if err != nil {
		return "", apperrors.NewNormalizationError("read "+name, err)
	}

	format := Sniff(data)
	debug.Verbose("Normalizer: %s is %s (%d bytes)", name, format, len(data))

	switch format {
	case FormatJPEG:
		if name != final {
			if err := n.Store.Rename(name, final); err != nil {
				return "", apperrors.NewNormalizationError("rename "+name, err)
			}
		}
	case FormatBMP, FormatPPM, FormatPNG:
		if err := n.convert(data, format, final); err != nil {
			return "", apperrors.NewNormalizationError("convert "+name, err)
		}
		if err := n.Store.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", apperrors.NewNormalizationError("remove intermediate "+name, err)
		}
	default:
		return "", apperrors.NewNormalizationError(name, apperrors.ErrUnsupportedFormat)
	}
	return n.Store.Path(final), nil
}

// candidates lists the names to probe for a session, reported name first.
// Only names carrying the session ID qualify, so a leftover file of another
// session is never picked up.
func candidates(reported, sessionID string) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || name == "." || seen[name] || !strings.Contains(name, sessionID) {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	add(filepath.Base(reported))
	base := RawName(sessionID)
	for _, ext := range probeExtensions {
		add(base + ext)
	}
	return names
}

func (n *Normalizer) locate(reported, sessionID string) (string, Entry, error) {
	for _, name := range candidates(reported, sessionID) {
		entry, err := n.Store.Stat(name)
		if err == nil {
			if name != filepath.Base(reported) {
				debug.Verbose("Normalizer: %s missing, found %s", filepath.Base(reported), name)
			}
			return name, entry, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", Entry{}, apperrors.NewNormalizationError("stat "+name, err)
		}
	}
	return "", Entry{}, apperrors.NewNormalizationError(
		"no output for session "+sessionID, apperrors.ErrArtifactNotFound)
}

func (n *Normalizer) convert(data []byte, format Format, final string) error {
	img, err := decodeFrame(data, format)
	if err != nil {
		return fmt.Errorf("decode %s: %w", format, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality()}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return n.Store.Write(final, buf.Bytes())
}

// decodeFrame decodes a non-JPEG artifact. 16-bit pixmaps keep their depth
// until the JPEG encoder reduces them.
func decodeFrame(data []byte, format Format) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case FormatBMP:
		return bmp.Decode(r)
	case FormatPPM:
		return netpbm.Decode(r, &netpbm.DecodeOptions{Target: netpbm.PPM})
	case FormatPNG:
		return png.Decode(r)
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format)
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) quality() int {
	if n.Quality <= 0 || n.Quality > 100 {
		return DefaultJPEGQuality
	}
	return n.Quality
}
