package harness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// TerminalState classifies how a long-running job ended.
type TerminalState int

const (
	TerminalNone TerminalState = iota // not terminal yet
	Completed
	JobFailed
	TimedOut
)

func (s TerminalState) String() string {
	switch s {
	case Completed:
		return "completed"
	case JobFailed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "running"
	}
}

// ProgressPhase is a best-effort status label extracted purely for
// diagnostics. Unknown text never changes state.
type ProgressPhase string

const (
	PhaseUnknown      ProgressPhase = ""
	PhaseInitializing ProgressPhase = "initializing"
	PhaseSearching    ProgressPhase = "searching"
	PhaseAnalyzing    ProgressPhase = "analyzing"
	PhaseGenerating   ProgressPhase = "generating"
	PhaseInProgress   ProgressPhase = "in_progress"
)

// JobHandle identifies a long-running background job. Created when a
// triggering action yields a recognizable job identifier; mutated only by
// the poller.
type JobHandle struct {
	ID        string
	StartedAt time.Time
	LastPhase ProgressPhase
	terminal  bool
}

// NewJobHandle creates a handle for the given job identifier.
func NewJobHandle(id string) *JobHandle {
	return &JobHandle{ID: id, StartedAt: time.Now()}
}

// Pollable reports whether the handle carries an identifier. A handle with
// no identifier cannot be polled; dependent assertions must be skipped, not
// failed.
func (h *JobHandle) Pollable() bool {
	return h != nil && h.ID != ""
}

// Terminal reports whether the poller has observed a terminal state.
func (h *JobHandle) Terminal() bool {
	return h != nil && h.terminal
}

var jobIDPattern = regexp.MustCompile(`/progress/([A-Za-z0-9-]+)`)

// ExtractJobID pulls a job identifier out of a progress address. Returns ""
// when the address does not embed one.
func ExtractJobID(rawURL string) string {
	m := jobIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// Snapshot is one observation of the job's state surface.
type Snapshot struct {
	// Text is the rendered text content of the progress surface.
	Text string
	// URL is the current address.
	URL string
	// Status is a structured status signal (e.g. a data-status attribute)
	// when the surface exposes one. Preferred over text heuristics.
	Status string
}

// Surface samples the observable state of a job. The chromedp-backed
// implementation is BrowserSurface; tests use scripted fakes.
type Surface interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// BrowserSurface samples a job's progress page through a Browser.
type BrowserSurface struct {
	Browser Browser
}

// statusSelectors are probed for a structured status signal before falling
// back to text classification.
var statusSelectors = []string{`[data-research-status]`, `.progress-status[data-status]`, `[data-status]`}

func (s BrowserSurface) Sample(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	text, err := s.Browser.PageText(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Text = text

	loc, err := s.Browser.Location(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.URL = loc

	for _, sel := range statusSelectors {
		for _, attr := range []string{"data-research-status", "data-status"} {
			if value, ok, err := s.Browser.Attribute(ctx, sel, attr); err == nil && ok && value != "" {
				snap.Status = value
				return snap, nil
			}
		}
	}
	return snap, nil
}

// Classification is the outcome of classifying one snapshot.
type Classification struct {
	Terminal TerminalState
	Phase    ProgressPhase
}

// Marker sets for text classification. Error detection is deliberately
// scoped to known failure phrases rather than the bare word "error", which
// can legitimately appear in echoed query text.
var (
	completionMarkers = []string{
		"research completed",
		"research complete",
		"view results",
	}
	failureMarkers = []string{
		"research failed",
		"an error occurred",
		"error:",
		"status: failed",
	}
	phaseMarkers = []struct {
		marker string
		phase  ProgressPhase
	}{
		{"initializing", PhaseInitializing},
		{"searching", PhaseSearching},
		{"analyzing", PhaseAnalyzing},
		{"generating", PhaseGenerating},
		{"in progress", PhaseInProgress},
	}
)

// Classify maps one snapshot to a terminal state or a progress phase. All
// string matching against the application boundary lives here; the polling
// state machine itself is free of textual heuristics. A structured status
// signal, when present, takes precedence over text.
func Classify(snap Snapshot) Classification {
	if snap.Status != "" {
		switch strings.ToLower(snap.Status) {
		case "completed", "complete", "finished":
			return Classification{Terminal: Completed}
		case "failed", "error", "cancelled":
			return Classification{Terminal: JobFailed}
		case "in_progress", "running":
			return Classification{Phase: PhaseInProgress}
		default:
			return Classification{Phase: ProgressPhase(strings.ToLower(snap.Status))}
		}
	}

	text := strings.ToLower(snap.Text)

	// A results/report address is a completion marker on its own.
	if strings.Contains(snap.URL, "/results/") {
		return Classification{Terminal: Completed}
	}
	for _, marker := range completionMarkers {
		if strings.Contains(text, marker) {
			return Classification{Terminal: Completed}
		}
	}

	// Failure only counts without a completion marker present.
	for _, marker := range failureMarkers {
		if strings.Contains(text, marker) {
			return Classification{Terminal: JobFailed}
		}
	}

	for _, pm := range phaseMarkers {
		if strings.Contains(text, pm.marker) {
			return Classification{Phase: pm.phase}
		}
	}
	return Classification{Phase: PhaseUnknown}
}

// ArtifactSink captures a labeled diagnostic artifact (screenshot).
// Captures are best-effort: a capture failure must not mask the state the
// poller observed.
type ArtifactSink interface {
	Capture(ctx context.Context, label string) error
}

// PollConfig configures AwaitTerminal.
type PollConfig struct {
	// Interval is the sampling cadence. Default 2s.
	Interval time.Duration
	// MaxWait bounds the whole poll. Default 10m.
	MaxWait time.Duration
	// ProgressLogInterval is how often a still-running diagnostic line is
	// logged. Default 10s.
	ProgressLogInterval time.Duration
	// CheckpointInterval is how often a wall-clock checkpoint artifact is
	// captured. Capturing every sample would flood storage; capturing only
	// at the end would lose the ability to diagnose a hang. Default 30s.
	CheckpointInterval time.Duration

	Logger    arbor.ILogger
	Artifacts ArtifactSink
}

func (c *PollConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Minute
	}
	if c.ProgressLogInterval <= 0 {
		c.ProgressLogInterval = 10 * time.Second
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = arbor.NewLogger()
	}
}

// AwaitTerminal samples the surface at a fixed cadence until a terminal
// classification or MaxWait elapses. The returned state is TimedOut when
// MaxWait runs out; that is not a failure by default, callers decide
// severity. The error return is reserved for an unpollable handle or
// context cancellation.
func AwaitTerminal(ctx context.Context, surface Surface, h *JobHandle, cfg PollConfig) (TerminalState, error) {
	if !h.Pollable() {
		return TerminalNone, ErrNoJobID
	}
	cfg.applyDefaults()

	start := time.Now()
	lastProgressLog := start
	lastCheckpoint := start
	limiter := rate.NewLimiter(rate.Every(cfg.Interval), 1)

	cfg.Logger.Info().
		Str("job_id", h.ID).
		Str("interval", cfg.Interval.String()).
		Str("max_wait", cfg.MaxWait.String()).
		Msg("Polling job until terminal state")

	for {
		if err := limiter.Wait(ctx); err != nil {
			return TerminalNone, err
		}

		elapsed := time.Since(start)
		if elapsed > cfg.MaxWait {
			cfg.Logger.Warn().
				Str("job_id", h.ID).
				Str("elapsed", elapsed.Round(time.Second).String()).
				Msg("Job did not reach a terminal state within max wait")
			capture(ctx, cfg, "timeout")
			h.terminal = true
			return TimedOut, nil
		}

		snap, err := surface.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return TerminalNone, ctx.Err()
			}
			// The surface updates in place and can be mid-swap; a failed
			// sample is a soft signal.
			cfg.Logger.Debug().Err(err).Str("job_id", h.ID).Msg("Sample failed, retrying")
			continue
		}

		c := Classify(snap)

		if c.Phase != PhaseUnknown && c.Phase != h.LastPhase {
			cfg.Logger.Info().
				Str("job_id", h.ID).
				Str("phase", string(c.Phase)).
				Str("elapsed", elapsed.Round(time.Second).String()).
				Msg("Progress phase changed")
			h.LastPhase = c.Phase
			capture(ctx, cfg, fmt.Sprintf("phase_%s", c.Phase))
		}

		if c.Terminal != TerminalNone {
			cfg.Logger.Info().
				Str("job_id", h.ID).
				Str("state", c.Terminal.String()).
				Str("elapsed", elapsed.Round(time.Second).String()).
				Msg("Job reached terminal state")
			capture(ctx, cfg, fmt.Sprintf("terminal_%s", c.Terminal))
			h.terminal = true
			return c.Terminal, nil
		}

		if time.Since(lastProgressLog) >= cfg.ProgressLogInterval {
			cfg.Logger.Info().
				Str("job_id", h.ID).
				Str("phase", string(h.LastPhase)).
				Str("elapsed", elapsed.Round(time.Second).String()).
				Msg("Still polling")
			lastProgressLog = time.Now()
		}
		if time.Since(lastCheckpoint) >= cfg.CheckpointInterval {
			capture(ctx, cfg, fmt.Sprintf("checkpoint_%ds", int(elapsed.Seconds())))
			lastCheckpoint = time.Now()
		}
	}
}

func capture(ctx context.Context, cfg PollConfig, label string) {
	if cfg.Artifacts == nil {
		return
	}
	if err := cfg.Artifacts.Capture(ctx, label); err != nil {
		cfg.Logger.Warn().Err(err).Str("label", label).Msg("Artifact capture failed")
	}
}
