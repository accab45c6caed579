package avpipe

import (
	"context"
	"fmt"
)

// SyncMode selects how SyncSelector lines inputs up on a common timeline.
type SyncMode int

const (
	// SyncModeActiveSegment trusts upstream pacing: buffers enter the
	// selector as they arrive and the active input's segment defines the
	// output timeline. This is the default.
	SyncModeActiveSegment SyncMode = iota
	// SyncModeClock holds each buffer until the clock reaches its running
	// time, so inputs with different upstream latencies stay comparable.
	SyncModeClock
)

func (m SyncMode) String() string {
	switch m {
	case SyncModeActiveSegment:
		return "active-segment"
	case SyncModeClock:
		return "clock"
	default:
		return "unknown"
	}
}

// SyncSelectorConfig configures a SyncSelector.
type SyncSelectorConfig struct {
	Mode       SyncMode
	Clock      Clock // Required for SyncModeClock; defaults to a SystemClock
	QueueDepth int   // Per-input queue depth, 0 for the default
}

// DefaultSyncSelectorConfig returns a config with active-segment sync.
func DefaultSyncSelectorConfig() SyncSelectorConfig {
	return SyncSelectorConfig{
		Mode:       SyncModeActiveSegment,
		QueueDepth: DefaultQueueDepth,
	}
}

// SyncInput is a SyncSelector input. Its Push gates buffers on the clock in
// clock mode and hands them to the underlying selector input otherwise.
type SyncInput struct {
	sel   *SyncSelector
	inner *SelectorInput
}

// Name returns the input's identifier.
func (in *SyncInput) Name() string { return in.inner.Name() }

// SendEvent delivers a serialized event to the input.
func (in *SyncInput) SendEvent(ev Event) error {
	return in.inner.Queue().SendEvent(ev)
}

// Push queues a buffer on the input. In clock mode it first blocks until the
// selector's clock reaches the buffer's running time.
func (in *SyncInput) Push(ctx context.Context, buf *Buffer) Flow {
	if in.sel.mode == SyncModeClock {
		seg, ok := in.inner.Queue().Segment()
		if ok {
			if rt := seg.ToRunningTime(buf.Timestamp()); rt.Valid() {
				if err := in.sel.clock.WaitUntil(ctx, rt); err != nil {
					return FlowFlushing
				}
			}
		}
	}
	return in.inner.Queue().Push(ctx, buf)
}

// SyncSelector is a Selector whose inputs are aligned on a shared timeline
// before selection, so that switching between live inputs with different
// latencies does not jump in time.
type SyncSelector struct {
	sel   *Selector
	mode  SyncMode
	clock Clock
}

// NewSyncSelector creates a synchronized selector.
func NewSyncSelector(cfg SyncSelectorConfig) (*SyncSelector, error) {
	clock := cfg.Clock
	if clock == nil {
		if cfg.Mode == SyncModeClock {
			clock = NewSystemClock()
		}
	}
	switch cfg.Mode {
	case SyncModeActiveSegment, SyncModeClock:
	default:
		return nil, fmt.Errorf("unknown sync mode %d", cfg.Mode)
	}
	return &SyncSelector{
		sel:   NewSelector(cfg.QueueDepth),
		mode:  cfg.Mode,
		clock: clock,
	}, nil
}

// Mode returns the configured sync mode.
func (s *SyncSelector) Mode() SyncMode { return s.mode }

// AddInput registers a new input. The first input added becomes active.
func (s *SyncSelector) AddInput(name string) *SyncInput {
	return &SyncInput{sel: s, inner: s.sel.AddInput(name)}
}

// ReleaseInput removes an input.
func (s *SyncSelector) ReleaseInput(in *SyncInput) {
	s.sel.ReleaseInput(in.inner)
}

// FlushInput discards an input's queued buffers and clears its drop history.
func (s *SyncSelector) FlushInput(in *SyncInput) {
	s.sel.FlushInput(in.inner)
}

// SetActive switches the active input.
func (s *SyncSelector) SetActive(in *SyncInput, active bool) {
	s.sel.SetActive(in.inner, active)
}

// ActiveName returns the name of the active input, or "" when none.
func (s *SyncSelector) ActiveName() string {
	if in := s.sel.ActiveInput(); in != nil {
		return in.Name()
	}
	return ""
}

// Tick produces the next unit of output from the underlying selector.
func (s *SyncSelector) Tick() (*TickOutput, Flow, error) {
	return s.sel.Tick()
}

// Stats returns the underlying selector's counters.
func (s *SyncSelector) Stats() SelectorStats {
	return s.sel.Stats()
}
