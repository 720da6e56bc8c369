package timelapse

import "context"

// Status is the printer lifecycle state as seen by the trigger logic. The
// concrete client maps firmware status words onto these four values; anything
// that is not idle, processing or paused is Other and never drives a
// transition.
type Status int

const (
	StatusIdle Status = iota
	StatusProcessing
	StatusPaused
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusPaused:
		return "paused"
	default:
		return "other"
	}
}

// Coordinates is the tool-head position in bed coordinates.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Printer is the control-and-status surface the loop consumes. All calls are
// synchronous; SendCode("M400") doubles as the motion-complete sync point.
// Every error from this interface is fatal to the run: once a command's fate
// is unknown the printer's physical state is ambiguous and carrying on risks
// a crashed head or a print left paused.
type Printer interface {
	Status(ctx context.Context) (Status, error)
	Layer(ctx context.Context) (int, error)
	Coordinates(ctx context.Context) (Coordinates, error)
	SendCode(ctx context.Context, code string) error
}

// Camera produces one still image for the given frame slot. A failed capture
// is logged and the slot skipped; it never ends the run.
type Camera interface {
	Capture(ctx context.Context, slot int) error
}

// Assembler turns the captured frame sequence into a video file and returns
// its path. Invoked exactly once per run.
type Assembler interface {
	Assemble(ctx context.Context, frameDir string, frames int) (string, error)
}
