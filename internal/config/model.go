package config

import "time"

// Camera selects the mechanism used to produce one still image.
const (
	CameraUSB    = "usb"    // local V4L2 device via fswebcam
	CameraPi     = "pi"     // Raspberry Pi camera via raspistill
	CameraStream = "stream" // grab one frame from a network stream via ffmpeg
	CameraWeb    = "web"    // fetch a still image URL via wget
)

// Detect selects the event that triggers a capture.
const (
	DetectLayer = "layer" // capture on layer number changes
	DetectPause = "pause" // capture when the print job pauses itself
	DetectNone  = "none"  // interval captures only
)

// Instance policies for the duplicate-process guard.
const (
	InstancesSingle = "single" // one daemon per host
	InstancesOneIP  = "oneip"  // one daemon per printer address
	InstancesMany   = "many"   // no guard
)

// XY is a head-reposition target in bed coordinates.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LoggingCfg struct {
	Level string `json:"level"` // debug|info|warn|error
	Sink  string `json:"sink"`  // console|file|both
}

type APICfg struct {
	Listen string `json:"listen"` // empty disables the embedded server
}

// Config is the immutable run configuration. It is assembled once at startup
// from an optional JSON file plus command-line flags and never changes while
// the run is in progress.
type Config struct {
	Printer    string   `json:"printer"`            // Duet hostname or IP, optionally host:port
	Camera     string   `json:"camera"`             // usb|pi|stream|web
	Detect     string   `json:"detect"`             // layer|pause|none
	Seconds    float64  `json:"seconds"`            // interval trigger in seconds, 0 disables
	ForcePause bool     `json:"forcePause"`         // pause the printer around detected triggers
	MoveHead   *XY      `json:"moveHead,omitempty"` // park position while force-paused
	WebURL     string   `json:"webUrl,omitempty"`   // source URL for stream/web cameras
	BaseDir    string   `json:"baseDir"`            // videos, log file, state database
	WorkDir    string   `json:"workDir"`            // scratch directory for numbered frames
	ExtraTime  float64  `json:"extraTime"`          // seconds the final video frame is held
	Instances  string   `json:"instances"`          // single|oneip|many
	DontWait   bool     `json:"dontWait"`           // evaluate triggers before a print starts
	CamArgs    []string `json:"camArgs,omitempty"`  // replaces the capture tool's default args
	VidArgs    []string `json:"vidArgs,omitempty"`  // replaces the encoder's default args
	TickMs     int      `json:"tickMs"`             // polling period in milliseconds

	Logging     LoggingCfg `json:"logging"`
	API         APICfg     `json:"api"`
	StateDBPath string     `json:"stateDbPath"` // run ledger database
}

// Tick returns the polling period as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Interval returns the interval trigger period, zero when disabled.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Seconds * float64(time.Second))
}
