package mediadeck

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// watcherPhase is where the subscription loop currently stands
type watcherPhase int

const (
	phaseConnecting watcherPhase = iota
	phaseSelecting
	phaseSubscribed
	phaseDraining
)

func (p watcherPhase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseSelecting:
		return "selecting"
	case phaseSubscribed:
		return "subscribed"
	case phaseDraining:
		return "draining"
	}

	return "unknown"
}

const (
	signalBufferSize = 32

	selectionRetryInterval = time.Second
	reconnectDelay         = time.Second * 2

	nameOwnerChangedSignal  = "org.freedesktop.DBus.NameOwnerChanged"
	propertiesChangedSignal = propertiesInterface + ".PropertiesChanged"
	playbackStatusProperty  = "PlaybackStatus"
	metadataChangedProperty = "Metadata"
	dbusDaemonInterface     = "org.freedesktop.DBus"
	nameOwnerChangedMember  = "NameOwnerChanged"
	propertiesChangedMember = "PropertiesChanged"
)

// Watcher owns the long-lived session-bus subscription. It selects the active
// player, subscribes to its change signals, pushes updates to the visible
// surfaces, and re-runs selection whenever the player stops or exits. It is
// the only component allowed to hold a live subscription, so selection
// changes can't leak duplicate match rules
type Watcher struct {
	logger *zap.SugaredLogger
	state  *State
	art    *ArtResolver

	newBus         func() (Bus, error)
	mixer          Mixer // may be nil when no audio server is around
	ignoredPlayers func() []string

	pushArt      func(ctx context.Context, art string)
	refreshDials func(ctx context.Context)

	phaseMu sync.Mutex
	phase   watcherPhase
}

func newWatcher(
	logger *zap.SugaredLogger,
	state *State,
	art *ArtResolver,
	newBus func() (Bus, error),
	mixer Mixer,
	ignoredPlayers func() []string,
	pushArt func(ctx context.Context, art string),
	refreshDials func(ctx context.Context),
) *Watcher {
	return &Watcher{
		logger:         logger.Named("watcher"),
		state:          state,
		art:            art,
		newBus:         newBus,
		mixer:          mixer,
		ignoredPlayers: ignoredPlayers,
		pushArt:        pushArt,
		refreshDials:   refreshDials,
	}
}

func (w *Watcher) setPhase(phase watcherPhase) {
	w.phaseMu.Lock()
	defer w.phaseMu.Unlock()

	if w.phase != phase {
		w.logger.Debugw("Watcher phase change", "from", w.phase, "to", phase)
		w.phase = phase
	}
}

func (w *Watcher) currentPhase() watcherPhase {
	w.phaseMu.Lock()
	defer w.phaseMu.Unlock()

	return w.phase
}

// Run drives the subscription loop until ctx is cancelled. Transport failures
// drain the current connection and restart from scratch after a delay;
// nothing that happens in here ever crashes the process
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.setPhase(phaseConnecting)

		bus, err := w.newBus()
		if err != nil {
			w.logger.Warnw("Failed to establish bus connection, retrying", "error", err)

			if !sleepCtx(ctx, reconnectDelay) {
				return
			}

			continue
		}

		err = w.watchConnection(ctx, bus)
		_ = bus.Close()

		if ctx.Err() != nil {
			return
		}

		w.setPhase(phaseDraining)
		w.logger.Warnw("Bus connection drained, will reconnect", "error", err)

		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

// watchConnection runs selection and subscription cycles over one bus
// connection, returning only on transport failure or cancellation
func (w *Watcher) watchConnection(ctx context.Context, bus Bus) error {
	selector := newPlayerSelector(w.logger, bus, w.state, w.ignoredPlayers)

	signals := bus.Signals(signalBufferSize)
	defer bus.RemoveSignal(signals)

	var mixerUpdates <-chan struct{}
	if w.mixer != nil {
		mixerUpdates = w.mixer.Updates()
	}

	for {
		w.setPhase(phaseSelecting)

		player, err := selector.SelectActive(ctx)
		if err != nil {
			if errors.Is(err, ErrNoPlayerFound) {
				if !sleepCtx(ctx, selectionRetryInterval) {
					return ctx.Err()
				}

				continue
			}

			return err
		}

		w.fullRefresh(ctx, selector, player)

		propsMatch := []dbus.MatchOption{
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember(propertiesChangedMember),
			dbus.WithMatchObjectPath(mprisObjectPath),
			dbus.WithMatchSender(string(player)),
		}
		ownerMatch := []dbus.MatchOption{
			dbus.WithMatchInterface(dbusDaemonInterface),
			dbus.WithMatchMember(nameOwnerChangedMember),
			dbus.WithMatchArg(0, string(player)),
		}

		if err := bus.AddSignalMatch(ctx, propsMatch...); err != nil {
			return err
		}

		if err := bus.AddSignalMatch(ctx, ownerMatch...); err != nil {
			_ = bus.RemoveSignalMatch(ctx, propsMatch...)
			return err
		}

		w.setPhase(phaseSubscribed)
		w.logger.Infow("Subscribed to player change signals", "player", player)

		reselect, err := w.consumeSignals(ctx, player, signals, mixerUpdates)

		// tear the scoped match rules down before selecting a new player
		_ = bus.RemoveSignalMatch(ctx, propsMatch...)
		_ = bus.RemoveSignalMatch(ctx, ownerMatch...)

		if !reselect {
			return err
		}
	}
}

// consumeSignals dispatches notifications for the selected player in strict
// delivery order. It reports reselect=true when selection should re-run over
// the current candidate set, and reselect=false when the transport is done
func (w *Watcher) consumeSignals(
	ctx context.Context,
	player PlayerHandle,
	signals <-chan *dbus.Signal,
	mixerUpdates <-chan struct{},
) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-mixerUpdates:
			// streams came or went; dial bindings may now point elsewhere
			w.refreshDials(ctx)

		case sig, ok := <-signals:
			if !ok {
				return false, errors.New("signal channel closed")
			}

			switch sig.Name {
			case nameOwnerChangedSignal:
				if w.playerExited(sig, player) {
					w.logger.Infow("Selected player exited, re-running selection", "player", player)
					return true, nil
				}

			case propertiesChangedSignal:
				reselect := w.handlePropertiesChanged(ctx, sig)
				if reselect {
					return true, nil
				}
			}
		}
	}
}

// playerExited reports whether the signal says our player's bus name lost its owner
func (w *Watcher) playerExited(sig *dbus.Signal, player PlayerHandle) bool {
	if len(sig.Body) < 3 {
		return false
	}

	name, nameOK := sig.Body[0].(string)
	newOwner, ownerOK := sig.Body[2].(string)

	return nameOK && ownerOK && name == string(player) && newOwner == ""
}

// handlePropertiesChanged processes one change notification. A transition to
// Stopped asks for a full reselect ("stopped" usually means another player is
// about to take over); a metadata change pushes just the new art
func (w *Watcher) handlePropertiesChanged(ctx context.Context, sig *dbus.Signal) bool {
	if len(sig.Body) < 2 {
		w.logger.Debugw("Dropping malformed change notification", "body", sig.Body)
		return false
	}

	iface, ifaceOK := sig.Body[0].(string)
	changed, changedOK := sig.Body[1].(map[string]dbus.Variant)

	if !ifaceOK || !changedOK {
		w.logger.Debugw("Dropping undecodable change notification", "body", sig.Body)
		return false
	}

	if iface != playerInterface {
		return false
	}

	if statusVariant, ok := changed[playbackStatusProperty]; ok {
		if status, ok := statusVariant.Value().(string); ok && parsePlaybackState(status) == PlaybackStopped {
			return true
		}
	}

	metadataVariant, ok := changed[metadataChangedProperty]
	if !ok {
		return false
	}

	art := w.resolveArt(ctx, artReferenceFromMetadata(metadataVariant.Value()))
	w.pushArt(ctx, art)
	w.refreshDials(ctx)

	return false
}

// fullRefresh pushes the selected player's current art to every visible surface
func (w *Watcher) fullRefresh(ctx context.Context, selector *PlayerSelector, player PlayerHandle) {
	art := w.resolveArt(ctx, selector.ArtReference(ctx, player))
	w.pushArt(ctx, art)
	w.refreshDials(ctx)
}

// resolveArt turns an art reference into a pushable payload, degrading to
// "clear the image" on any failure
func (w *Watcher) resolveArt(ctx context.Context, reference string) string {
	if reference == "" {
		return ""
	}

	art, err := w.art.Resolve(ctx, reference)
	if err != nil {
		w.logger.Warnw("Failed to resolve art reference", "reference", reference, "error", err)
		return ""
	}

	return art
}

// sleepCtx waits for the duration, returning false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
