package mediadeck

import (
	"context"

	"fyne.io/systray"

	"github.com/mediadeck/mediadeck/pkg/mediadeck/util"
)

func (d *MediaDeck) initializeTray(onDone func()) {
	logger := d.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTitle("mediadeck")
		systray.SetTooltip("mediadeck")

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with an editor")

		refreshSurfaces := systray.AddMenuItem("Refresh surfaces", "Manually re-push art to all surfaces if something's stuck")

		if d.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(d.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop mediadeck and quit")

		go func() {
			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					d.signalStop()

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					// TODO: make editor configurable
					editor := "notepad.exe"
					if util.Linux() {
						editor = "gedit"
					}

					if err := util.OpenExternal(logger, editor, userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case <-refreshSurfaces.ClickedCh:
					logger.Info("Refresh menu item clicked, re-pushing art to surfaces")

					d.actions.RefreshKeys(context.Background())
					d.actions.RefreshDials(context.Background())
				}
			}
		}()

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (d *MediaDeck) stopTray() {
	d.logger.Debug("Quitting tray")
	systray.Quit()
}
