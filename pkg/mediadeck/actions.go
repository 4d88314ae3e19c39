package mediadeck

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	actionUUIDPrefix = "com.mediadeck."

	actionPlayPause  = actionUUIDPrefix + "playpause"
	actionStop       = actionUUIDPrefix + "stop"
	actionPrevious   = actionUUIDPrefix + "previous"
	actionNext       = actionUUIDPrefix + "next"
	actionRepeat     = actionUUIDPrefix + "repeat"
	actionShuffle    = actionUUIDPrefix + "shuffle"
	actionVolumeDial = actionUUIDPrefix + "volumedial"
)

// keyActionUUIDs are the actions whose surfaces show the selected player's art
var keyActionUUIDs = []string{
	actionPlayPause,
	actionStop,
	actionPrevious,
	actionNext,
	actionRepeat,
	actionShuffle,
}

// Controls issues one-shot playback commands against the currently relevant
// player. Every call selects its target fresh - players come and go between
// key presses
type Controls struct {
	logger   *zap.SugaredLogger
	bus      Bus
	selector *PlayerSelector
}

func newControls(logger *zap.SugaredLogger, bus Bus, selector *PlayerSelector) *Controls {
	return &Controls{
		logger:   logger.Named("controls"),
		bus:      bus,
		selector: selector,
	}
}

// CallPlayer invokes a no-argument method on the active player's control interface
func (c *Controls) CallPlayer(ctx context.Context, method string) error {
	player, err := c.selector.PeekActive(ctx)
	if err != nil {
		return err
	}

	return c.bus.Call(ctx, string(player), mprisObjectPath, playerInterface+"."+method)
}

// CycleRepeat advances the active player's loop mode None -> Playlist -> Track -> None
func (c *Controls) CycleRepeat(ctx context.Context) error {
	player, err := c.selector.PeekActive(ctx)
	if err != nil {
		return err
	}

	variant, err := c.bus.GetProperty(ctx, string(player), mprisObjectPath, propLoopStatus)
	if err != nil {
		return err
	}

	current, ok := variant.Value().(string)
	if !ok {
		return fmt.Errorf("unexpected loop status type: %v", variant.Value())
	}

	next := "None"
	switch current {
	case "None":
		next = "Playlist"
	case "Playlist":
		next = "Track"
	}

	return c.bus.SetProperty(ctx, string(player), mprisObjectPath, propLoopStatus, next)
}

// ToggleShuffle flips the active player's shuffle state
func (c *Controls) ToggleShuffle(ctx context.Context) error {
	player, err := c.selector.PeekActive(ctx)
	if err != nil {
		return err
	}

	variant, err := c.bus.GetProperty(ctx, string(player), mprisObjectPath, propShuffle)
	if err != nil {
		return err
	}

	shuffled, ok := variant.Value().(bool)
	if !ok {
		return fmt.Errorf("unexpected shuffle type: %v", variant.Value())
	}

	return c.bus.SetProperty(ctx, string(player), mprisObjectPath, propShuffle, !shuffled)
}

// ActionSet wires every surface action to its handler and gives the watcher
// its two push targets: the key surfaces and the dial surfaces
type ActionSet struct {
	logger   *zap.SugaredLogger
	host     SurfaceHost
	controls *Controls
	selector *PlayerSelector
	art      *ArtResolver
	dials    *DialController
	state    *State
}

func newActionSet(
	logger *zap.SugaredLogger,
	host SurfaceHost,
	controls *Controls,
	selector *PlayerSelector,
	art *ArtResolver,
	dials *DialController,
	state *State,
) *ActionSet {
	return &ActionSet{
		logger:   logger.Named("actions"),
		host:     host,
		controls: controls,
		selector: selector,
		art:      art,
		dials:    dials,
		state:    state,
	}
}

// Register binds all action handlers to the deck host
func (as *ActionSet) Register(host *DeckHost) {
	invoke := func(name string, call func(ctx context.Context) error) ActionHandler {
		return &keyAction{
			logger:  as.logger,
			name:    name,
			invoke:  call,
			refresh: as.RefreshKeys,
		}
	}

	playerMethod := func(method string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			return as.controls.CallPlayer(ctx, method)
		}
	}

	host.RegisterAction(actionPlayPause, invoke("PlayPause", playerMethod("PlayPause")))
	host.RegisterAction(actionStop, invoke("Stop", playerMethod("Stop")))
	host.RegisterAction(actionPrevious, invoke("Previous", playerMethod("Previous")))
	host.RegisterAction(actionNext, invoke("Next", playerMethod("Next")))
	host.RegisterAction(actionRepeat, invoke("Repeat", as.controls.CycleRepeat))
	host.RegisterAction(actionShuffle, invoke("Shuffle", as.controls.ToggleShuffle))
	host.RegisterAction(actionVolumeDial, &dialAction{
		logger: as.logger,
		host:   as.host,
		dials:  as.dials,
		state:  as.state,
	})
}

// RefreshKeys re-resolves the active player's art and pushes it to every
// visible key surface
func (as *ActionSet) RefreshKeys(ctx context.Context) {
	art := ""

	if player, err := as.selector.PeekActive(ctx); err == nil {
		if reference := as.selector.ArtReference(ctx, player); reference != "" {
			if resolved, err := as.art.Resolve(ctx, reference); err == nil {
				art = resolved
			}
		}
	}

	as.PushArtToKeys(ctx, art)
}

// PushArtToKeys pushes one art payload to every visible key surface
func (as *ActionSet) PushArtToKeys(ctx context.Context, art string) {
	for _, actionUUID := range keyActionUUIDs {
		for _, instanceID := range as.host.VisibleInstances(actionUUID) {
			if err := as.host.SetImage(instanceID, art); err != nil {
				as.logger.Warnw("Failed to push art to surface",
					"action", actionUUID,
					"instanceID", instanceID,
					"error", err)
			}
		}
	}
}

// RefreshDials re-resolves each visible dial surface's bound-stream art
func (as *ActionSet) RefreshDials(ctx context.Context) {
	for _, instanceID := range as.host.VisibleInstances(actionVolumeDial) {
		art := as.dials.CurrentArt(ctx, instanceID)

		if err := as.host.SetImage(instanceID, art); err != nil {
			as.logger.Warnw("Failed to push art to dial surface",
				"instanceID", instanceID,
				"error", err)
		}
	}
}

// keyAction is a stateless key surface: a press fires one playback command,
// appearing triggers a refresh of all key surfaces
type keyAction struct {
	baseAction

	logger  *zap.SugaredLogger
	name    string
	invoke  func(ctx context.Context) error
	refresh func(ctx context.Context)
}

func (ka *keyAction) WillAppear(ctx context.Context, instanceID string) {
	ka.refresh(ctx)
}

func (ka *keyAction) KeyUp(ctx context.Context, instanceID string) {
	if err := ka.invoke(ctx); err != nil {
		// a missing player or a deaf one - warn and keep the surface alive
		ka.logger.Warnw("Playback command failed", "command", ka.name, "error", err)
	}
}

// dialAction owns the volume dial surfaces: rotation adjusts or browses,
// holding the dial down switches to browse mode
type dialAction struct {
	baseAction

	logger *zap.SugaredLogger
	host   SurfaceHost
	dials  *DialController
	state  *State
}

func (da *dialAction) WillAppear(ctx context.Context, instanceID string) {
	da.pushArt(instanceID, da.dials.CurrentArt(ctx, instanceID))
}

func (da *dialAction) WillDisappear(ctx context.Context, instanceID string) {
	da.state.DropDial(instanceID)
	da.state.SetPressed(instanceID, false)
}

func (da *dialAction) DialDown(ctx context.Context, instanceID string) {
	da.state.SetPressed(instanceID, true)
}

func (da *dialAction) DialUp(ctx context.Context, instanceID string) {
	// leaving browse mode keeps the cursor where it is
	da.state.SetPressed(instanceID, false)
}

func (da *dialAction) DialRotate(ctx context.Context, instanceID string, ticks int) {
	art, changed := da.dials.Rotate(ctx, instanceID, ticks)
	if changed {
		da.pushArt(instanceID, art)
	}
}

func (da *dialAction) pushArt(instanceID string, art string) {
	if err := da.host.SetImage(instanceID, art); err != nil {
		da.logger.Warnw("Failed to push art to dial surface", "instanceID", instanceID, "error", err)
	}
}
