package main

import (
	"flag"
	"fmt"

	"github.com/mediadeck/mediadeck/pkg/mediadeck"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool

	// registration parameters handed to us by the deck host on launch
	port          int
	pluginUUID    string
	registerEvent string
	hostInfo      string
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.IntVar(&port, "port", 0, "deck host websocket port")
	flag.StringVar(&pluginUUID, "pluginUUID", "", "plugin registration UUID")
	flag.StringVar(&registerEvent, "registerEvent", "registerPlugin", "registration event name")
	flag.StringVar(&hostInfo, "info", "", "host environment info (unused)")
	flag.Parse()
}

func main() {
	logger, err := mediadeck.NewLogger(buildType)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	d, err := mediadeck.NewMediaDeck(logger, mediadeck.HostParams{
		Port:          port,
		PluginUUID:    pluginUUID,
		RegisterEvent: registerEvent,
	}, verbose)
	if err != nil {
		named.Fatalw("Failed to create mediadeck object", "error", err)
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		d.SetVersion(versionString)
	}

	if err = d.Initialize(); err != nil {
		named.Fatalw("Failed to initialize mediadeck", "error", err)
	}
}
