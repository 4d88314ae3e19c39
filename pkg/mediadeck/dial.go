package mediadeck

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DialSelection tracks which audio stream one physical dial is bound to:
// either the master output (ordinal 0) or a specific stream. Owned by the
// surface instance that created it; ordinal math is always re-derived from a
// freshly fetched stream list, never trusted across rotations
type DialSelection struct {
	mu sync.Mutex

	ordinal      int
	targetSinkID uint32 // 0 = master output
	targetBinary string // app identity of the bound stream, "" for master
}

// Target returns the current binding: the bound stream's id and app identity,
// with master reported as (0, "", true)
func (d *DialSelection) Target() (sinkID uint32, binary string, master bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.targetSinkID, d.targetBinary, d.ordinal == 0
}

func (d *DialSelection) bind(ordinal int, sinkID uint32, binary string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ordinal = ordinal
	d.targetSinkID = sinkID
	d.targetBinary = binary
}

func (d *DialSelection) cursor() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ordinal
}

// DialController handles rotation events for all dial surfaces. A rotation
// either adjusts the bound target's volume (default) or, while the dial is
// held down, browses across [master] ++ live streams
type DialController struct {
	logger  *zap.SugaredLogger
	mixer   Mixer
	matcher *SinkInputMatcher
	state   *State

	conf func() *Config
}

func newDialController(logger *zap.SugaredLogger, mixer Mixer, matcher *SinkInputMatcher, state *State, conf func() *Config) *DialController {
	return &DialController{
		logger:  logger.Named("dial"),
		mixer:   mixer,
		matcher: matcher,
		state:   state,
		conf:    conf,
	}
}

// Rotate processes one rotation event for a surface instance. When the
// binding changed it returns the art payload that should now be shown on the
// dial ("" clears it back to the default visual); plain volume ticks leave
// the visual alone
func (dc *DialController) Rotate(ctx context.Context, instanceID string, ticks int) (art string, changed bool) {
	if dc.state.Pressed(instanceID) {
		return dc.browse(ctx, instanceID, ticks), true
	}

	dc.adjustVolume(instanceID, ticks)

	return "", false
}

func (dc *DialController) adjustVolume(instanceID string, ticks int) {
	conf := dc.conf()
	delta := ticks * conf.VolumeStepPercent

	sinkID, _, master := dc.state.Dial(instanceID).Target()

	var err error
	if master {
		err = dc.mixer.AdjustMasterVolume(delta, conf.MaxVolumePercent)
	} else {
		err = dc.mixer.AdjustSinkInputVolume(sinkID, delta, conf.MaxVolumePercent)
	}

	if err != nil {
		// the bound stream may just have closed; degrade to a no-op
		dc.logger.Debugw("Volume adjustment failed",
			"instanceID", instanceID,
			"sinkID", sinkID,
			"error", err)
	}
}

func (dc *DialController) browse(ctx context.Context, instanceID string, ticks int) string {
	inputs, err := dc.mixer.SinkInputs()
	if err != nil {
		dc.logger.Warnw("Failed to enumerate streams while browsing", "error", err)
		inputs = nil
	}

	dial := dc.state.Dial(instanceID)

	// the list may have shrunk since the cursor was last set; clamp before
	// stepping so the wrap math stays within the fresh list
	length := len(inputs) + 1
	cursor := dial.cursor()
	if cursor >= length {
		cursor = length - 1
	}

	cursor = wrapIndex(cursor, ticks, length)

	if cursor == 0 {
		dial.bind(0, 0, "")
		dc.logger.Debugw("Dial bound to master output", "instanceID", instanceID)

		return ""
	}

	bound := inputs[cursor-1]
	dial.bind(cursor, bound.ID, bound.Binary)

	dc.logger.Debugw("Dial bound to stream",
		"instanceID", instanceID,
		"sinkID", bound.ID,
		"binary", bound.Binary)

	return dc.matcher.ArtForSinkInput(ctx, bound.ID, bound.Binary)
}

// CurrentArt resolves the art that represents the dial's current binding
func (dc *DialController) CurrentArt(ctx context.Context, instanceID string) string {
	sinkID, binary, master := dc.state.Dial(instanceID).Target()
	if master {
		return ""
	}

	return dc.matcher.ArtForSinkInput(ctx, sinkID, binary)
}

// wrapIndex steps cursor by ticks over a cyclic list of the given length,
// wrapping at both ends
func wrapIndex(cursor int, ticks int, length int) int {
	if length <= 0 {
		return 0
	}

	next := (cursor + ticks) % length
	if next < 0 {
		next += length
	}

	return next
}
