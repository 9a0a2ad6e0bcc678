package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/cjeanneret/camask/internal/config"
	"github.com/cjeanneret/camask/internal/credentials"
	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
	"github.com/cjeanneret/camask/internal/hw/camera"
	"github.com/cjeanneret/camask/internal/hw/gpio"
	"github.com/cjeanneret/camask/internal/logic/capture"
	"github.com/cjeanneret/camask/internal/session"
	"github.com/cjeanneret/camask/internal/vision"
	"github.com/cjeanneret/camask/internal/web"
)

var version = "dev"

// credentialsPath locates the API key file; replaced in tests.
var credentialsPath = credentials.DefaultPath

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// cliOverrides are flag values that take precedence over the config file.
// Zero values mean "use config".
type cliOverrides struct {
	Platform   string
	Device     string
	DebugLevel int // -1 = config
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("camask", flag.ContinueOnError)
	fs.SetOutput(stderr)

	webPort := &webPortFlag{defaultPort: 8080}
	fs.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := fs.String("config", config.DefaultPath(), "path to config file")
	setup := fs.Bool("setup", false, "store the vision API key and exit")
	clearKey := fs.Bool("clear-key", false, "remove the stored API key and exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	listDevices := fs.Bool("list-devices", false, "print attached cameras (id<TAB>name) and exit")
	device := fs.String("device", "", "camera device id to use (see -list-devices)")
	platform := fs.String("platform", "", "override camera platform: "+strings.Join(config.Platforms, ", "))
	debugLevel := fs.Int("debug", -1, "debug level 0-4 (default from config)")
	keepDir := fs.String("keep", "", "copy every accepted JPEG into this directory")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return apperrors.ExitCode(apperrors.NewUsageError("parse flags", err))
	}

	if *showVersion {
		fmt.Fprintf(stdout, "camask %s\n", version)
		return 0
	}

	overrides := cliOverrides{Platform: *platform, Device: *device, DebugLevel: *debugLevel}
	if err := validateCLIOverrides(overrides); err != nil {
		return fail(stderr, apperrors.NewUsageError("invalid flag", err))
	}

	credPath, err := credentialsPath()
	if err != nil {
		return fail(stderr, apperrors.NewCredentialError("credentials", err))
	}
	creds := &credentials.Store{Path: credPath}

	switch {
	case *clearKey:
		if err := creds.Clear(); err != nil {
			return fail(stderr, apperrors.NewCredentialError("clear key", err))
		}
		fmt.Fprintln(stdout, "API key removed.")
		return 0
	case *setup:
		if err := setupKey(creds, stdin, stdout); err != nil {
			return fail(stderr, apperrors.NewCredentialError("setup", err))
		}
		return 0
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("load config failed", err))
	}
	applyOverrides(cfg, overrides)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.SetOutput(stderr)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing camera driver")
	driver, err := camera.NewDriver(cfg.Camera.Platform, camera.Options{
		WidthPx:     cfg.Camera.WidthPx,
		HeightPx:    cfg.Camera.HeightPx,
		JPEGQuality: cfg.Camera.JPEGQuality,
		SkipFrames:  cfg.Camera.SkipFrames,
		Warmup:      cfg.WarmupDelay(),
	}, camera.ExecRunner{Timeout: cfg.CommandTimeout()})
	if err != nil {
		return fail(stderr, apperrors.NewDeviceError("init camera failed", err))
	}

	if *listDevices {
		for _, d := range driver.ListDevices(ctx) {
			fmt.Fprintf(stdout, "%s\t%s\n", d.ID, d.DisplayName)
		}
		return 0
	}

	debug.Step(2, "Resolving API key")
	apiKey, ok, err := creds.Resolve()
	if err != nil {
		return fail(stderr, err)
	}
	if !ok {
		if !isTerminal(stdin) {
			return fail(stderr, apperrors.NewCredentialError(
				"no API key: run camask -setup or set "+credentials.EnvKey, nil))
		}
		if err := setupKey(creds, stdin, stdout); err != nil {
			return fail(stderr, apperrors.NewCredentialError("setup", err))
		}
		if apiKey, _, err = creds.Get(); err != nil {
			return fail(stderr, err)
		}
	}

	var indicator capture.Indicator
	if cfg.GPIO.IndicatorPin > 0 {
		debug.Step(3, "Initializing GPIO indicator")
		debug.Value("Mock GPIO", cfg.GPIO.Mock)
		gpioDriver, err := gpio.NewDriver(cfg.GPIO.Mock)
		if err != nil {
			return fail(stderr, apperrors.NewDeviceError("init GPIO failed", err))
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				debug.Error(err)
			}
		}()
		led, err := gpio.NewIndicator(gpioDriver, cfg.GPIO.IndicatorPin)
		if err != nil {
			return fail(stderr, apperrors.NewDeviceError("init indicator failed", err))
		}
		indicator = led
	}

	debug.Step(4, "Preparing working directory")
	store, err := capture.NewDirStore(cfg.Capture.WorkDir)
	if err != nil {
		return fail(stderr, apperrors.NewConfigError("work dir", err))
	}
	debug.Value("Work dir", store.Dir())
	orch := newOrchestrator(cfg, store, driver, indicator)

	analyzer := vision.NewClient(vision.Config{
		Endpoint:      cfg.Vision.Endpoint,
		APIKey:        apiKey,
		Model:         cfg.Vision.Model,
		APIVersion:    cfg.Vision.APIVersion,
		MaxTokens:     cfg.Vision.MaxTokens,
		Timeout:       cfg.VisionTimeout(),
		DefaultPrompt: cfg.Vision.DefaultPrompt,
	})

	sess := &session.Session{
		Devices:         driver,
		Capturer:        orch,
		Analyzer:        analyzer,
		PreferredDevice: cfg.Camera.Device,
		KeepDir:         *keepDir,
		Color:           isColorTerminal(stdout),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go capture.NewJanitor(store, cfg.SweepAfter()).Run(ctx)

	if port := webPort.port(); port > 0 {
		if err := runWeb(ctx, port, cfg, sess); err != nil {
			return fail(stderr, fmt.Errorf("web server: %w", err))
		}
		return 0
	}

	if err := sess.Run(ctx, stdin, stdout); err != nil {
		return fail(stderr, fmt.Errorf("session: %w", err))
	}
	return 0
}

// fail reports err on stderr and returns the matching exit status.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, err)
	return apperrors.ExitCode(err)
}

// newOrchestrator builds the capture pipeline from configuration.
func newOrchestrator(cfg *config.Config, store capture.Store, inv capture.Invoker, indicator capture.Indicator) *capture.Orchestrator {
	orch := capture.NewOrchestrator(store, inv)
	orch.MaxAttempts = cfg.Capture.MaxAttempts
	orch.SettleDelay = cfg.SettleDelay()
	orch.SweepAfter = cfg.SweepAfter()
	orch.Normalizer.StaleAfter = cfg.StaleAfter()
	orch.Normalizer.Quality = cfg.Camera.JPEGQuality
	orch.Guard = capture.Guard{
		HeaderOffset:    cfg.Capture.HeaderOffset,
		SampleWindow:    cfg.Capture.SampleWindow,
		DarkByte:        byte(cfg.Capture.DarkByte),
		MaxDarkFraction: cfg.Capture.MaxDarkFraction,
	}
	orch.Indicator = indicator
	return orch
}

// runWeb serves the remote trigger page until ctx is cancelled. The device
// is picked without prompting.
func runWeb(ctx context.Context, port int, cfg *config.Config, sess *session.Session) error {
	d, err := sess.SelectDevice(ctx, nil)
	if err != nil {
		return err
	}
	debug.Info("Selected camera %s (%s)", d.ID, d.DisplayName)

	broadcaster := web.NewStatusBroadcaster()
	debug.AddHook(broadcaster.Hook())

	srv, err := newWebServer(port, cfg, broadcaster, sess.Ask, d)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// newWebServer builds the web server for device d from configuration.
func newWebServer(port int, cfg *config.Config, b *web.StatusBroadcaster, ask web.AskFunc, d camera.Device) (*web.Server, error) {
	srv, err := web.NewServer(fmt.Sprintf(":%d", port), b, ask, web.FormConfig{
		DefaultPrompt: cfg.Vision.DefaultPrompt,
		Device:        d.DisplayName,
		Model:         cfg.Vision.Model,
	})
	if err != nil {
		return nil, err
	}
	srv.Handlers().Cooldown = cfg.WebCooldown()
	debug.Value("Capture cooldown", srv.Handlers().Cooldown)
	return srv, nil
}

// setupKey asks for the API key, without echo on a terminal, and stores it.
func setupKey(creds *credentials.Store, stdin io.Reader, stdout io.Writer) error {
	fmt.Fprint(stdout, "Vision API key: ")
	key, err := readSecret(stdin)
	fmt.Fprintln(stdout)
	if err != nil {
		return err
	}
	if err := creds.Set(key); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "API key saved to %s\n", creds.Path)
	return nil
}

func readSecret(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func isColorTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && session.ColorEnabled(f)
}

// validateCLIOverrides checks flag values before the config is loaded.
func validateCLIOverrides(o cliOverrides) error {
	if o.Platform != "" && !config.ValidPlatform(strings.ToLower(o.Platform)) {
		return fmt.Errorf("platform must be one of %s, got %q", strings.Join(config.Platforms, ", "), o.Platform)
	}
	if o.DebugLevel < -1 || o.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", o.DebugLevel)
	}
	if strings.TrimSpace(o.Device) != o.Device {
		return fmt.Errorf("device must not have surrounding spaces, got %q", o.Device)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Platform != "" {
		cfg.Camera.Platform = strings.ToLower(o.Platform)
	}
	if o.Device != "" {
		cfg.Camera.Device = o.Device
	}
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
