// Command duetlapsed watches a Duet-controlled 3D printer during a print,
// captures still frames on layer changes, fixed intervals or pauses, and
// assembles the frames into a timelapse video when the print ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Roelanb/duetlapse/internal/api"
	"github.com/Roelanb/duetlapse/internal/capture"
	"github.com/Roelanb/duetlapse/internal/config"
	"github.com/Roelanb/duetlapse/internal/duet"
	"github.com/Roelanb/duetlapse/internal/guard"
	"github.com/Roelanb/duetlapse/internal/observability"
	"github.com/Roelanb/duetlapse/internal/runlog"
	"github.com/Roelanb/duetlapse/internal/timelapse"
	"github.com/Roelanb/duetlapse/internal/video"
	"github.com/Roelanb/duetlapse/internal/watch"
)

const (
	exitOK           = 0
	exitFailure      = 1 // duplicate instance, or the run died mid-print
	exitPrecondition = 2 // bad flags, missing tool, unreachable printer
)

var (
	configPath = flag.String("config", "", "Optional JSON config file; flags override its values")
	duetAddr   = flag.String("duet", "localhost", "Duet printer hostname or IP, optionally host:port")
	camera     = flag.String("camera", "usb", "Camera type: usb|pi|stream|web")
	seconds    = flag.Float64("seconds", 0, "Also capture every n seconds (0 disables)")
	detect     = flag.String("detect", "layer", "Capture trigger: layer|pause|none")
	pause      = flag.Bool("pause", false, "Force a pause around every triggered capture")
	moveHead   = flag.String("movehead", "", "Park position \"x,y\" while force-paused")
	webURL     = flag.String("weburl", "", "Source URL for stream/web cameras")
	baseDir    = flag.String("basedir", "", "Directory for videos, log file and run database (default: home)")
	workDir    = flag.String("workdir", "", "Scratch directory for frames (default: temp)")
	extraTime  = flag.Float64("extratime", 0, "Seconds the final video frame is held")
	instances  = flag.String("instances", "single", "Instance policy: single|oneip|many")
	logType    = flag.String("logtype", "both", "Log sink: console|file|both")
	logLevel   = flag.String("loglevel", "info", "Log level: debug|info|warn|error")
	dontWait   = flag.Bool("dontwait", false, "Capture from startup instead of waiting for the print to begin")
	camParms   = flag.String("camparms", "", "Extra capture tool arguments, replacing the defaults")
	vidParms   = flag.String("vidparms", "", "Extra encoder arguments, replacing the default frame rate")
	apiAddr    = flag.String("api-addr", "", "Status API listen address (\"none\" disables; default 127.0.0.1:8080)")
	tickMs     = flag.Int("tick", 0, "Polling period in milliseconds")
	stateDB    = flag.String("statedb", "", "Run database path (default: <basedir>/duetlapse.db)")
)

func parseXY(s string) (*config.XY, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(parts) != 2 {
		return nil, fmt.Errorf("movehead wants \"x,y\", got %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("movehead x: %w", err)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("movehead y: %w", err)
	}
	return &config.XY{X: x, Y: y}, nil
}

// mergeFlags copies every flag the user explicitly set over the loaded
// config, leaving file values (and later defaults) in place for the rest.
func mergeFlags(cfg *config.Config) error {
	var xyErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "duet":
			cfg.Printer = *duetAddr
		case "camera":
			cfg.Camera = *camera
		case "seconds":
			cfg.Seconds = *seconds
		case "detect":
			cfg.Detect = *detect
		case "pause":
			cfg.ForcePause = *pause
		case "movehead":
			cfg.MoveHead, xyErr = parseXY(*moveHead)
		case "weburl":
			cfg.WebURL = *webURL
		case "basedir":
			cfg.BaseDir = *baseDir
		case "workdir":
			cfg.WorkDir = *workDir
		case "extratime":
			cfg.ExtraTime = *extraTime
		case "instances":
			cfg.Instances = *instances
		case "logtype":
			cfg.Logging.Sink = *logType
		case "loglevel":
			cfg.Logging.Level = *logLevel
		case "dontwait":
			cfg.DontWait = *dontWait
		case "camparms":
			cfg.CamArgs = strings.Fields(*camParms)
		case "vidparms":
			cfg.VidArgs = strings.Fields(*vidParms)
		case "api-addr":
			cfg.API.Listen = *apiAddr
		case "tick":
			cfg.TickMs = *tickMs
		case "statedb":
			cfg.StateDBPath = *stateDB
		}
	})
	return xyErr
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		cfg, err = config.Parse(b)
		if err != nil {
			return nil, err
		}
	}
	if err := mergeFlags(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if err := config.Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return exitPrecondition
	}

	logger, err := observability.NewLogger(
		observability.EnvLogLevel(cfg.Logging.Level),
		cfg.Logging.Sink,
		filepath.Join(cfg.BaseDir, "duetlapse.log"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return exitPrecondition
	}
	defer logger.Sync() //nolint:errcheck

	runID := uuid.NewString()
	logger = logger.With("runId", runID)

	moveHeadStr := "none"
	if cfg.MoveHead != nil {
		moveHeadStr = fmt.Sprintf("%.2f,%.2f", cfg.MoveHead.X, cfg.MoveHead.Y)
	}
	logger.Infow("options in force",
		"printer", cfg.Printer,
		"camera", cfg.Camera,
		"detect", cfg.Detect,
		"seconds", cfg.Seconds,
		"pause", cfg.ForcePause,
		"movehead", moveHeadStr,
		"dontwait", cfg.DontWait,
		"basedir", cfg.BaseDir,
		"workdir", cfg.WorkDir,
		"extratime", cfg.ExtraTime,
		"instances", cfg.Instances,
		"camparms", strings.Join(cfg.CamArgs, " "),
		"vidparms", strings.Join(cfg.VidArgs, " "),
		"tickMs", cfg.TickMs,
	)
	for _, w := range config.Warnings(cfg) {
		logger.Warnw(w)
	}

	g, err := guard.Acquire(cfg.Instances, cfg.Printer, os.TempDir())
	if err != nil {
		logger.Errorw("instance guard refused to start", "error", err)
		if errors.Is(err, guard.ErrDuplicate) {
			return exitFailure
		}
		return exitPrecondition
	}
	defer g.Release()

	if err := capture.Preflight(cfg.Camera); err != nil {
		logger.Errorw("camera tool missing", "error", err)
		return exitPrecondition
	}
	if err := video.Preflight(); err != nil {
		logger.Errorw("encoder missing", "error", err)
		return exitPrecondition
	}
	if err := capture.ResetWorkDir(cfg.WorkDir); err != nil {
		logger.Errorw("work directory not usable", "dir", cfg.WorkDir, "error", err)
		return exitPrecondition
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeCtx, cancelProbe := context.WithTimeout(ctx, 15*time.Second)
	printer, err := duet.Connect(probeCtx, cfg.Printer)
	cancelProbe()
	if err != nil {
		logger.Errorw("printer unreachable", "address", cfg.Printer, "error", err)
		return exitPrecondition
	}
	logger.Infow("printer connected", "address", printer.BaseURL(), "generation", int(printer.Generation()))

	store, err := runlog.Open(cfg.StateDBPath)
	if err != nil {
		logger.Errorw("run database not usable", "path", cfg.StateDBPath, "error", err)
		return exitPrecondition
	}
	defer store.Close()

	shooter := capture.New(capture.Options{
		Mode:      cfg.Camera,
		WorkDir:   cfg.WorkDir,
		WebURL:    cfg.WebURL,
		ExtraArgs: cfg.CamArgs,
	}, logger)
	assembler := video.New(video.Options{
		OutDir:    cfg.BaseDir,
		ExtraTime: cfg.ExtraTime,
		ExtraArgs: cfg.VidArgs,
	}, logger)

	ctrl := timelapse.NewController(timelapse.Deps{
		Config:    cfg,
		Printer:   printer,
		Camera:    shooter,
		Assembler: assembler,
		Log:       logger,
		Ledger:    store,
		Record: &runlog.RunRecord{
			ID:      runID,
			Printer: cfg.Printer,
			Camera:  cfg.Camera,
			Detect:  cfg.Detect,
		},
	})

	latestPath := filepath.Join(cfg.WorkDir, "latest.jpeg")
	watcher, err := watch.New(watch.Options{
		Directory:     cfg.WorkDir,
		LatestPath:    latestPath,
		Stabilization: 250 * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Errorw("frame watcher setup failed", "error", err)
		return exitPrecondition
	}

	// auxiliary goroutines live until the control loop returns
	aux, cancelAux := context.WithCancel(context.Background())
	defer cancelAux()

	if cfg.API.Listen != "" && cfg.API.Listen != "none" {
		srv := api.New(logger, ctrl, store, latestPath, cfg.API.Listen)
		if err := srv.Start(aux); err != nil {
			logger.Errorw("api server failed to start", "addr", cfg.API.Listen, "error", err)
			return exitPrecondition
		}
	}

	// SIGUSR1 asks for one extra frame, same as POST /api/snapshot.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	var eg errgroup.Group
	eg.Go(func() error {
		if err := watcher.Run(aux); err != nil {
			logger.Warnw("frame watcher unavailable", "error", err)
		}
		return nil
	})
	eg.Go(func() error {
		for {
			select {
			case <-aux.Done():
				return nil
			case <-usr1:
				logger.Infow("snapshot requested via SIGUSR1")
				ctrl.RequestCapture()
			}
		}
	})

	var runErr error
	eg.Go(func() error {
		defer cancelAux()
		runErr = ctrl.Run(ctx)
		return nil
	})

	_ = eg.Wait()

	if runErr != nil {
		logger.Errorw("run ended with failure", "error", runErr)
		return exitFailure
	}
	logger.Infow("run complete")
	return exitOK
}
