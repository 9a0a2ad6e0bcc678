package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/camask/internal/config"
	"github.com/cjeanneret/camask/internal/credentials"
	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
	"github.com/cjeanneret/camask/internal/hw/camera"
	"github.com/cjeanneret/camask/internal/logic/capture"
	"github.com/cjeanneret/camask/internal/web"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides(t *testing.T) {
	cases := []struct {
		name    string
		o       cliOverrides
		wantErr bool
	}{
		{"none", cliOverrides{DebugLevel: -1}, false},
		{"mock_platform", cliOverrides{Platform: "mock", DebugLevel: -1}, false},
		{"upper_case_platform", cliOverrides{Platform: "Linux", DebugLevel: -1}, false},
		{"debug_max", cliOverrides{DebugLevel: 4}, false},
		{"device", cliOverrides{Device: "/dev/video2", DebugLevel: -1}, false},
		{"unknown_platform", cliOverrides{Platform: "amiga", DebugLevel: -1}, true},
		{"debug_too_high", cliOverrides{DebugLevel: 5}, true},
		{"debug_negative", cliOverrides{DebugLevel: -2}, true},
		{"device_spaces", cliOverrides{Device: " 1", DebugLevel: -1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCLIOverrides(tc.o)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_Set(t *testing.T) {
	cases := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"8980", 8980, false},
		{"1", 1, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"-1", 0, true},
		{"http", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			err := w.Set(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Set(%q) err = %v", tc.input, err)
			}
			if !tc.wantErr && w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyOverrides ----------

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Device = "1"
	cfg.Defaults.DebugLevel = 2

	applyOverrides(cfg, cliOverrides{DebugLevel: -1})
	if cfg.Camera.Platform != "auto" || cfg.Camera.Device != "1" || cfg.Defaults.DebugLevel != 2 {
		t.Errorf("empty overrides changed config: %+v %+v", cfg.Camera, cfg.Defaults)
	}

	applyOverrides(cfg, cliOverrides{Platform: "Mock", Device: "mock0", DebugLevel: 0})
	if cfg.Camera.Platform != "mock" || cfg.Camera.Device != "mock0" || cfg.Defaults.DebugLevel != 0 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Camera, cfg.Defaults)
	}
}

func TestNewOrchestrator_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.MaxAttempts = 5
	cfg.Capture.SettleDelayMs = 250
	cfg.Capture.DarkByte = 16
	cfg.Camera.JPEGQuality = 80

	orch := newOrchestrator(cfg, capture.NewMemStore(), nil, nil)
	if orch.MaxAttempts != 5 || orch.SettleDelay != 250*time.Millisecond {
		t.Errorf("retry settings = %d/%v", orch.MaxAttempts, orch.SettleDelay)
	}
	if orch.Guard.DarkByte != 16 || orch.Guard.MaxDarkFraction != 0.9 {
		t.Errorf("guard = %+v", orch.Guard)
	}
	if orch.Normalizer.Quality != 80 || orch.Normalizer.StaleAfter != 5*time.Second {
		t.Errorf("normalizer = %+v", orch.Normalizer)
	}
	if orch.Indicator != nil {
		t.Error("no indicator expected")
	}
}

func TestNewOrchestrator_LogsEachTransitionOnce(t *testing.T) {
	var buf bytes.Buffer
	debug.Init(debug.LevelLive)
	debug.SetOutput(&buf)
	t.Cleanup(func() {
		debug.Init(debug.LevelOff)
		debug.SetOutput(os.Stderr)
	})

	store, err := capture.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cam := camera.NewMock(camera.Options{WidthPx: 320, HeightPx: 240, JPEGQuality: 90})
	orch := newOrchestrator(config.Default(), store, cam, nil)

	art, err := orch.CaptureOne(context.Background(), "mock0")
	if err != nil {
		t.Fatalf("CaptureOne: %v", err)
	}
	defer orch.Release(art)

	out := buf.String()
	for _, state := range []string{"Idle", "Invoking", "Normalizing", "QualityChecking", "Accepted"} {
		if n := strings.Count(out, "msg="+state); n != 1 {
			t.Errorf("state %s logged %d times, want 1\n%s", state, n, out)
		}
	}
}

func TestNewWebServer_Cooldown(t *testing.T) {
	cfg := config.Default()
	cfg.Web.CooldownMs = 2500
	ask := func(ctx context.Context, prompt string) (string, error) { return "", nil }

	srv, err := newWebServer(8080, cfg, web.NewStatusBroadcaster(), ask, camera.Device{ID: "mock0", DisplayName: "Mock Test Card"})
	if err != nil {
		t.Fatalf("newWebServer: %v", err)
	}
	if got := srv.Handlers().Cooldown; got != 2500*time.Millisecond {
		t.Errorf("Cooldown = %v, want 2.5s", got)
	}
	if srv.Handlers().FormDefaults.Device != "Mock Test Card" {
		t.Errorf("form defaults = %+v", srv.Handlers().FormDefaults)
	}
}

// ---------- run ----------

type runResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return runResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func useTempCredentials(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camask", "credentials.json")
	prev := credentialsPath
	credentialsPath = func() (string, error) { return path, nil }
	t.Cleanup(func() { credentialsPath = prev })
	return path
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camask.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	r := runCLI(t, "", "-version")
	if r.code != 0 || !strings.HasPrefix(r.stdout, "camask ") {
		t.Errorf("code=%d stdout=%q", r.code, r.stdout)
	}
}

func TestRun_BadFlags(t *testing.T) {
	usage := apperrors.ExitCode(apperrors.NewUsageError("", nil))
	if usage != 2 {
		t.Fatalf("usage exit code = %d, want 2", usage)
	}
	if r := runCLI(t, "", "-no-such-flag"); r.code != usage {
		t.Errorf("unknown flag: code = %d", r.code)
	}
	if r := runCLI(t, "", "-platform", "amiga"); r.code != usage || !strings.Contains(r.stderr, "invalid flag: platform") {
		t.Errorf("bad platform: code=%d stderr=%q", r.code, r.stderr)
	}
}

func TestRun_BadConfig(t *testing.T) {
	useTempCredentials(t)
	cfg := writeConfig(t, "camera:\n  jpeg_quality: 500\n")
	r := runCLI(t, "", "-config", cfg)
	if want := apperrors.ExitCode(apperrors.NewConfigError("", nil)); r.code != want || want != 1 {
		t.Errorf("code=%d want %d", r.code, want)
	}
	if !strings.Contains(r.stderr, "load config failed") || !strings.Contains(r.stderr, "camera.jpeg_quality") {
		t.Errorf("stderr=%q", r.stderr)
	}
}

func TestRun_ListDevices(t *testing.T) {
	useTempCredentials(t)
	r := runCLI(t, "", "-config", filepath.Join(t.TempDir(), "missing.yaml"), "-platform", "mock", "-list-devices")
	if r.code != 0 {
		t.Fatalf("code=%d stderr=%q", r.code, r.stderr)
	}
	if r.stdout != "mock0\tMock Test Card\n" {
		t.Errorf("stdout = %q", r.stdout)
	}
}

func TestRun_SetupAndClearKey(t *testing.T) {
	path := useTempCredentials(t)

	r := runCLI(t, "sk-ant-xyz\n", "-setup")
	if r.code != 0 {
		t.Fatalf("setup: code=%d stderr=%q", r.code, r.stderr)
	}
	key, ok, err := (&credentials.Store{Path: path}).Get()
	if err != nil || !ok || key != "sk-ant-xyz" {
		t.Fatalf("stored key = %q, %v, %v", key, ok, err)
	}

	if r := runCLI(t, "", "-clear-key"); r.code != 0 {
		t.Fatalf("clear-key: code=%d", r.code)
	}
	if _, ok, _ := (&credentials.Store{Path: path}).Get(); ok {
		t.Error("key should be removed")
	}
}

func TestRun_SetupRejectsEmptyKey(t *testing.T) {
	useTempCredentials(t)
	if r := runCLI(t, "\n", "-setup"); r.code != 1 {
		t.Errorf("code = %d, want 1", r.code)
	}
}

func TestRun_NoKeyNonInteractive(t *testing.T) {
	useTempCredentials(t)
	t.Setenv(credentials.EnvKey, "")
	r := runCLI(t, "", "-config", filepath.Join(t.TempDir(), "missing.yaml"), "-platform", "mock")
	if r.code != 1 || !strings.Contains(r.stderr, "no API key") {
		t.Errorf("code=%d stderr=%q", r.code, r.stderr)
	}
}

func TestRun_SessionEndToEnd(t *testing.T) {
	useTempCredentials(t)
	t.Setenv(credentials.EnvKey, "sk-env")

	var (
		mu      sync.Mutex
		prompts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-env" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var body struct {
			Messages []struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		for _, b := range body.Messages[0].Content {
			if b.Type == "text" {
				prompts = append(prompts, b.Text)
			}
		}
		mu.Unlock()
		w.Write([]byte(`{"content":[{"type":"text","text":"Colour bars."}]}`))
	}))
	defer srv.Close()

	workDir := filepath.Join(t.TempDir(), "work")
	keepDir := filepath.Join(t.TempDir(), "keep")
	cfg := writeConfig(t, strings.Join([]string{
		"camera:",
		"  platform: mock",
		"  width_px: 320",
		"  height_px: 240",
		"  jpeg_quality: 90",
		"capture:",
		"  work_dir: " + workDir,
		"vision:",
		"  endpoint: " + srv.URL,
		"  default_prompt: Describe it.",
		"",
	}, "\n"))

	r := runCLI(t, "\nwhat is shown?\nq\n", "-config", cfg, "-keep", keepDir)
	if r.code != 0 {
		t.Fatalf("code=%d stderr=%q stdout=%q", r.code, r.stderr, r.stdout)
	}
	if strings.Count(r.stdout, "Colour bars.") != 2 {
		t.Errorf("stdout = %q", r.stdout)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(prompts) != 2 || prompts[0] != "Describe it." || prompts[1] != "what is shown?" {
		t.Errorf("prompts = %q", prompts)
	}

	left, _ := os.ReadDir(workDir)
	if len(left) != 0 {
		t.Errorf("work dir should be empty, has %d entries", len(left))
	}
	kept, _ := filepath.Glob(filepath.Join(keepDir, "capture_*.jpg"))
	if len(kept) != 2 {
		t.Errorf("kept = %v", kept)
	}
}
