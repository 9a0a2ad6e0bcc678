package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cjeanneret/camask/internal/debug"
)

// MaxPromptLen bounds the question accepted by POST /capture.
const MaxPromptLen = 4000

const maxBodyBytes = 1 << 20

// CaptureRequest is the body of POST /capture.
type CaptureRequest struct {
	Prompt string `json:"prompt"`
}

// AskFunc captures one frame and returns the analysis for prompt.
// An empty prompt selects the configured default.
type AskFunc func(ctx context.Context, prompt string) (string, error)

// FormConfig is served by GET /config to prefill the page.
type FormConfig struct {
	DefaultPrompt string `json:"default_prompt"`
	Device        string `json:"device"`
	Model         string `json:"model"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Ask          AskFunc
	FormDefaults FormConfig
	Cooldown     time.Duration // minimum gap between two accepted captures

	ctx       context.Context
	now       func() time.Time
	runningMu sync.Mutex
	running   bool
	lastStart time.Time
	wg        sync.WaitGroup
	staticFS  fs.FS
}

// NewHandlers creates handlers. With a nil ask, POST /capture answers 503.
func NewHandlers(broadcaster *StatusBroadcaster, ask AskFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Ask:          ask,
		FormDefaults: formDefaults,
		ctx:          context.Background(),
		now:          time.Now,
		staticFS:     staticFS,
	}
}

// ValidateRequest checks the prompt of a capture request.
func ValidateRequest(req CaptureRequest) error {
	if !utf8.ValidString(req.Prompt) {
		return errors.New("prompt must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(req.Prompt); n > MaxPromptLen {
		return fmt.Errorf("prompt must be at most %d characters, got %d", MaxPromptLen, n)
	}
	return nil
}

// HandleConfig returns the page defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture. The capture runs in the background;
// its result or error is delivered over the status stream.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CaptureRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := ValidateRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Ask == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	now := h.now()
	if h.Cooldown > 0 && !h.lastStart.IsZero() && now.Sub(h.lastStart) < h.Cooldown {
		h.runningMu.Unlock()
		http.Error(w, "too many captures, try again shortly", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastStart = now
	h.runningMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		h.Broadcaster.Broadcast(LevelState, "capturing")
		text, err := h.Ask(h.ctx, req.Prompt)
		if err != nil {
			h.Broadcaster.Broadcast("error", err.Error())
			debug.Error(err)
			return
		}
		h.Broadcaster.BroadcastResult(req.Prompt, text)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// Running reports whether a capture is in progress.
func (h *Handlers) Running() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// Wait blocks until the background capture, if any, has finished.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
