package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalid marks configurations rejected by Validate. Callers exit with the
// precondition status when they see it.
var ErrInvalid = errors.New("invalid configuration")

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a raw JSON config without applying defaults or validating,
// so command-line flags can still be merged over it before Finalize.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates in place. It is called again after
// command-line flags have been merged over a loaded file.
func Finalize(cfg *Config) error {
	applyDefaults(cfg)
	return Validate(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Printer == "" {
		cfg.Printer = "localhost"
	}
	if cfg.Camera == "" {
		cfg.Camera = CameraUSB
	}
	if cfg.Detect == "" {
		cfg.Detect = DetectLayer
	}
	if cfg.Instances == "" {
		cfg.Instances = InstancesSingle
	}
	if cfg.TickMs <= 0 {
		// Deliberately not a divisor of one second so the poll never locks
		// step with the printer's own periodic status updates.
		cfg.TickMs = 770
	}
	if cfg.BaseDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.BaseDir = home
		} else {
			cfg.BaseDir = "."
		}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "duetlapse")
	}
	// The frame watcher wants an absolute path.
	if abs, err := filepath.Abs(cfg.WorkDir); err == nil {
		cfg.WorkDir = abs
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = filepath.Join(cfg.BaseDir, "duetlapse.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Sink == "" {
		cfg.Logging.Sink = "both"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8080"
	}
}

func Validate(cfg *Config) error {
	switch cfg.Camera {
	case CameraUSB, CameraPi, CameraStream, CameraWeb:
	case "dslr":
		return fmt.Errorf("%w: camera type dslr is not yet supported", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown camera type %q", ErrInvalid, cfg.Camera)
	}

	switch cfg.Detect {
	case DetectLayer, DetectPause, DetectNone:
	default:
		return fmt.Errorf("%w: unknown detect mode %q", ErrInvalid, cfg.Detect)
	}

	switch cfg.Instances {
	case InstancesSingle, InstancesOneIP, InstancesMany:
	default:
		return fmt.Errorf("%w: unknown instances policy %q", ErrInvalid, cfg.Instances)
	}

	switch cfg.Logging.Sink {
	case "console", "file", "both":
	default:
		return fmt.Errorf("%w: unknown log sink %q", ErrInvalid, cfg.Logging.Sink)
	}

	if cfg.Printer == "" {
		return fmt.Errorf("%w: printer address is required", ErrInvalid)
	}
	if cfg.Seconds < 0 {
		return fmt.Errorf("%w: seconds must be >= 0", ErrInvalid)
	}
	if cfg.ExtraTime < 0 {
		return fmt.Errorf("%w: extratime must be >= 0", ErrInvalid)
	}
	if (cfg.Camera == CameraStream || cfg.Camera == CameraWeb) && cfg.WebURL == "" {
		return fmt.Errorf("%w: camera %q requires a weburl", ErrInvalid, cfg.Camera)
	}

	// A parked head position only makes sense when something pauses the
	// printer: either our own forced pause or pauses already in the G-code.
	if cfg.MoveHead != nil && !cfg.ForcePause && cfg.Detect != DetectPause {
		return fmt.Errorf("%w: movehead requires forced pause or detect=pause", ErrInvalid)
	}

	// Forcing pauses while also waiting for G-code pauses is contradictory:
	// the detector would trip on the pauses we inject ourselves.
	if cfg.ForcePause && cfg.Detect == DetectPause {
		return fmt.Errorf("%w: forced pause and detect=pause are incompatible", ErrInvalid)
	}

	return nil
}

// Warnings returns advisory notes for combinations that are legal but easy to
// misunderstand; the caller logs them at startup.
func Warnings(cfg *Config) []string {
	var out []string
	if cfg.Seconds > 0 && cfg.Detect != DetectNone {
		out = append(out, fmt.Sprintf(
			"seconds=%g and detect=%s will both trigger; use detect=none to trigger on the interval alone",
			cfg.Seconds, cfg.Detect))
	}
	if cfg.Detect == DetectPause {
		out = append(out, "detect=pause expects the job's G-code to contain its own pauses; a photo is taken and a resume issued at each one")
	}
	if cfg.ForcePause {
		out = append(out, "forced pause stops the printer at every trigger and resumes after the photo")
	}
	return out
}
