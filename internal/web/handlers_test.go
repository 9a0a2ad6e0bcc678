package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

// ---------- ValidateRequest ----------

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"empty_uses_default", "", false},
		{"question", "What colour is the mug?", false},
		{"at_limit", strings.Repeat("é", MaxPromptLen), false},
		{"over_limit", strings.Repeat("a", MaxPromptLen+1), true},
		{"invalid_utf8", "bad \xff byte", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(CaptureRequest{Prompt: tc.prompt})
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// ---------- Handler helpers ----------

func newTestHandlers(ask AskFunc) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		ask,
		FormConfig{DefaultPrompt: "Describe the image.", Device: "0", Model: "test-model"},
		staticFS,
	)
}

func noopAsk(_ context.Context, _ string) (string, error) {
	return "ok", nil
}

func captureBody(prompt string) *bytes.Reader {
	data, _ := json.Marshal(CaptureRequest{Prompt: prompt})
	return bytes.NewReader(data)
}

func post(h *Handlers, body *bytes.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCapture(w, req)
	return w
}

// ---------- HandleCapture ----------

func TestHandleCapture_ResultIsBroadcast(t *testing.T) {
	var gotPrompt string
	h := newTestHandlers(func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "A mug on a desk.", nil
	})
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := post(h, captureBody("  what is this?  "))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("response status = %q", resp["status"])
	}

	if evt := receive(t, ch); evt.Level != LevelState {
		t.Errorf("first event = %+v, want state", evt)
	}
	evt := receive(t, ch)
	if evt.Level != LevelResult || evt.Msg != "A mug on a desk." || evt.Prompt != "what is this?" {
		t.Errorf("result event = %+v", evt)
	}
	h.Wait()
	if gotPrompt != "what is this?" {
		t.Errorf("prompt passed to ask = %q", gotPrompt)
	}
	if h.Running() {
		t.Error("running flag should be cleared")
	}
}

func TestHandleCapture_ErrorIsBroadcast(t *testing.T) {
	h := newTestHandlers(func(context.Context, string) (string, error) {
		return "", errors.New("capture failed after 3 attempts")
	})
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	if w := post(h, captureBody("")); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	receive(t, ch) // state
	evt := receive(t, ch)
	if evt.Level != "error" || evt.Msg != "capture failed after 3 attempts" {
		t.Errorf("event = %+v", evt)
	}
	h.Wait()
}

func TestHandleCapture_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(noopAsk)
	req := httptest.NewRequest(http.MethodGet, "/capture", nil)
	w := httptest.NewRecorder()

	h.HandleCapture(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCapture_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"oversized", `{"prompt":"` + strings.Repeat("x", 2<<20) + `"}`},
		{"prompt_too_long", `{"prompt":"` + strings.Repeat("x", MaxPromptLen+1) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(noopAsk)
			w := post(h, bytes.NewReader([]byte(tc.body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleCapture_NotConfigured(t *testing.T) {
	h := newTestHandlers(nil)
	if w := post(h, captureBody("")); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCapture_ConcurrentCapture(t *testing.T) {
	started := make(chan struct{})
	blocking := make(chan struct{})
	h := newTestHandlers(func(context.Context, string) (string, error) {
		close(started)
		<-blocking
		return "done", nil
	})

	if w := post(h, captureBody("")); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d", w.Code)
	}
	<-started

	if w := post(h, captureBody("")); w.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w.Code, http.StatusConflict)
	}

	close(blocking)
	h.Wait()
}

func TestHandleCapture_Cooldown(t *testing.T) {
	h := newTestHandlers(noopAsk)
	h.Cooldown = 5 * time.Second
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return clock }

	if w := post(h, captureBody("")); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d", w.Code)
	}
	h.Wait()

	clock = clock.Add(2 * time.Second)
	if w := post(h, captureBody("")); w.Code != http.StatusTooManyRequests {
		t.Errorf("within cooldown: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	clock = clock.Add(5 * time.Second)
	if w := post(h, captureBody("")); w.Code != http.StatusAccepted {
		t.Errorf("after cooldown: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	h.Wait()
}

func TestHandleCapture_UsesBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var gotErr error
	h := newTestHandlers(func(ctx context.Context, _ string) (string, error) {
		gotErr = ctx.Err()
		return "", ctx.Err()
	})
	h.ctx = ctx

	post(h, captureBody(""))
	h.Wait()
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("capture should see the server context, got %v", gotErr)
	}
}

// ---------- HandleConfig / ServeIndex ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(noopAsk)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.DefaultPrompt != "Describe the image." || fc.Device != "0" || fc.Model != "test-model" {
		t.Errorf("config = %+v", fc)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(noopAsk)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), noopAsk, FormConfig{}, fstest.MapFS{})
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- Server ----------

func TestServer_EmbeddedPageAndRoutes(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), noopAsk, FormConfig{DefaultPrompt: "p"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "/status/stream") {
		t.Errorf("index: status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/capture")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /capture: status %d", resp.StatusCode)
	}
}

func TestServer_StatusStream(t *testing.T) {
	b := NewStatusBroadcaster()
	srv, err := NewServer("127.0.0.1:0", b, noopAsk, FormConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Broadcast("info", "streamed")

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "streamed") && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got.String(), "data: ") || !strings.Contains(got.String(), "streamed") {
		t.Errorf("stream = %q", got.String())
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), noopAsk, FormConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunBadAddress(t *testing.T) {
	srv, _ := NewServer("bad-address", NewStatusBroadcaster(), nil, FormConfig{})
	if err := srv.Run(context.Background()); err == nil {
		t.Error("expected listen error")
	}
}
