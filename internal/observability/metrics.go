package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesCaptured counts successful still captures.
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duetlapse_frames_captured_total",
		Help: "Total number of frames captured successfully",
	})

	// CaptureFailures counts capture invocations that failed; the frame slot
	// is skipped and the run continues.
	CaptureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duetlapse_capture_failures_total",
		Help: "Total number of failed capture invocations",
	})

	// PrinterCommands counts G-code commands issued to the printer by code.
	PrinterCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duetlapse_printer_commands_total",
		Help: "Total number of G-code commands sent to the printer",
	}, []string{"code"})

	// PrinterErrors counts failed printer API calls; any one of these ends
	// the run.
	PrinterErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duetlapse_printer_errors_total",
		Help: "Total number of failed printer API calls",
	})

	// Ticks counts polling loop iterations.
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duetlapse_ticks_total",
		Help: "Total number of polling ticks",
	})

	// FramesOnDisk tracks stabilized frame files observed in the work
	// directory by the frame watcher.
	FramesOnDisk = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duetlapse_frames_on_disk",
		Help: "Number of frame files present in the work directory",
	})
)
