// Package mediadeck keeps a physical control surface in sync with the
// desktop's media players and the system audio mixer: key surfaces show the
// active player's art and fire playback commands, dial surfaces adjust and
// browse audio streams
package mediadeck

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mediadeck/mediadeck/pkg/mediadeck/util"
)

// MediaDeck is the main entity managing all subcomponents
type MediaDeck struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	state     *State

	bus     Bus
	mixer   Mixer
	host    *DeckHost
	watcher *Watcher
	actions *ActionSet

	runningWithTray bool
	stopChannel     chan bool
	cancelTasks     context.CancelFunc
	version         string
	verbose         bool
}

// HostParams is what the deck host hands us on launch
type HostParams struct {
	Port          int
	PluginUUID    string
	RegisterEvent string
}

func NewMediaDeck(logger *zap.SugaredLogger, params HostParams, verbose bool) (*MediaDeck, error) {
	logger = logger.Named("mediadeck")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	d := &MediaDeck{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		state:       NewState(),
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	ignoredPlayers := func() []string {
		return d.currConf().IgnoredPlayers
	}

	bus, err := newSessionBus(logger)
	if err != nil {
		logger.Errorw("Failed to connect to session bus", "error", err)
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	d.bus = bus

	mixer, err := newPAMixer(logger)
	if err != nil {
		logger.Errorw("Failed to create mixer client", "error", err)
		return nil, fmt.Errorf("create mixer client: %w", err)
	}

	d.mixer = mixer

	d.host = NewDeckHost(logger, params.Port, params.PluginUUID, params.RegisterEvent)

	art := newArtResolver(logger)
	selector := newPlayerSelector(logger, bus, d.state, ignoredPlayers)
	matcher := newSinkInputMatcher(logger, mixer, selector, art)
	dials := newDialController(logger, mixer, matcher, d.state, d.currConf)
	controls := newControls(logger, bus, selector)

	d.actions = newActionSet(logger, d.host, controls, selector, art, dials, d.state)
	d.actions.Register(d.host)

	// the watcher owns its own connection lifecycle so a dropped subscription
	// can reconnect without disturbing the one-shot command path
	d.watcher = newWatcher(
		logger,
		d.state,
		art,
		func() (Bus, error) { return newSessionBus(logger) },
		mixer,
		ignoredPlayers,
		d.actions.PushArtToKeys,
		d.actions.RefreshDials,
	)

	logger.Debug("Created mediadeck instance")

	return d, nil
}

func (d *MediaDeck) currConf() *Config {
	return &d.configMan.current
}

// Initialize sets up components and starts to run in the background
func (d *MediaDeck) Initialize() error {
	d.logger.Debug("Initializing")

	// load the config for the first time
	if err := d.configMan.Load(); err != nil {
		d.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancelTasks = cancel

	if err := d.host.Connect(ctx); err != nil {
		cancel()
		d.logger.Errorw("Failed to connect to deck host", "error", err)
		return fmt.Errorf("connect to deck host: %w", err)
	}

	d.setupInterruptHandler()

	if d.currConf().DisableTray {
		d.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		d.run(ctx)
	} else {
		d.runningWithTray = true
		d.initializeTray(func() { d.run(ctx) })
	}

	return nil
}

// SetVersion causes mediadeck to add a version string to its tray menu if called before Initialize
func (d *MediaDeck) SetVersion(version string) {
	d.version = version
}

// Verbose returns a boolean indicating whether mediadeck is running in verbose mode
func (d *MediaDeck) Verbose() bool {
	return d.verbose
}

func (d *MediaDeck) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		d.logger.Debugw("Interrupted", "signal", signal)
		d.signalStop()
	}()
}

func (d *MediaDeck) run(ctx context.Context) {
	defer d.recoverFromPanic()

	d.logger.Info("Run loop starting")

	go d.configMan.WatchConfigFileChanges()

	go func() {
		defer d.recoverFromPanic()
		d.watcher.Run(ctx)
	}()

	go func() {
		// the host session ending means the deck software is gone - wind down
		if err := d.host.Run(ctx); err != nil && ctx.Err() == nil {
			d.logger.Infow("Deck host session ended, stopping", "error", err)
			d.signalStop()
		}
	}()

	// wait until gracefully stopped
	<-d.stopChannel
	d.logger.Debug("Stop channel signaled, terminating")

	if err := d.stop(); err != nil {
		d.logger.Warnw("Failed to stop mediadeck", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (d *MediaDeck) signalStop() {
	d.logger.Debug("Signalling stop channel")
	d.stopChannel <- true
}

func (d *MediaDeck) stop() error {
	d.logger.Info("Stopping")

	d.cancelTasks()
	d.configMan.StopWatchingConfigFile()
	d.host.Close()

	if err := d.mixer.Release(); err != nil {
		d.logger.Warnw("Failed to release mixer client", "error", err)
	}

	if err := d.bus.Close(); err != nil {
		d.logger.Warnw("Failed to close session bus connection", "error", err)
	}

	if d.runningWithTray {
		d.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = d.logger.Sync()

	return nil
}
