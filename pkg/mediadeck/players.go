package mediadeck

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = dbus.ObjectPath("/org/mpris/MediaPlayer2")

	playerInterface     = "org.mpris.MediaPlayer2.Player"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	propPlaybackStatus = playerInterface + ".PlaybackStatus"
	propMetadata       = playerInterface + ".Metadata"
	propLoopStatus     = playerInterface + ".LoopStatus"
	propShuffle        = playerInterface + ".Shuffle"

	metadataArtURLKey = "mpris:artUrl"
)

// ErrNoPlayerFound indicates that no media player is registered on the bus.
// It's an expected condition, not a failure
var ErrNoPlayerFound = errors.New("no media players found on the session bus")

// PlayerHandle is the well-known bus name of one media-player instance.
// Players appear and disappear asynchronously; a handle held across calls
// may already be gone
type PlayerHandle string

// PlaybackState is a player's reported playback status
type PlaybackState int

const (
	PlaybackUnknown PlaybackState = iota
	PlaybackPlaying
	PlaybackPaused
	PlaybackStopped
)

func parsePlaybackState(raw string) PlaybackState {
	switch raw {
	case "Playing":
		return PlaybackPlaying
	case "Paused":
		return PlaybackPaused
	case "Stopped":
		return PlaybackStopped
	}

	return PlaybackUnknown
}

// PlayerSelector picks the media-player instance that should drive the UI
type PlayerSelector struct {
	logger *zap.SugaredLogger
	bus    Bus
	state  *State

	ignoredPlayers func() []string
}

func newPlayerSelector(logger *zap.SugaredLogger, bus Bus, state *State, ignoredPlayers func() []string) *PlayerSelector {
	return &PlayerSelector{
		logger:         logger.Named("players"),
		bus:            bus,
		state:          state,
		ignoredPlayers: ignoredPlayers,
	}
}

// ListPlayers returns all media-player handles currently on the bus, in bus
// enumeration order, with configured ignored services filtered out
func (ps *PlayerSelector) ListPlayers(ctx context.Context) ([]PlayerHandle, error) {
	names, err := ps.bus.ListNames(ctx)
	if err != nil {
		ps.logger.Warnw("Failed to list bus names", "error", err)
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	ignored := ps.ignoredPlayers()

	players := []PlayerHandle{}
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}

		if funk.ContainsString(ignored, strings.TrimPrefix(name, mprisPrefix)) {
			continue
		}

		players = append(players, PlayerHandle(name))
	}

	return players, nil
}

// SelectActive picks the one player that should drive the UI:
// a currently playing player wins, then the last player observed playing
// (if still present), then the first candidate. Only the playing branch
// updates the last-active memory
func (ps *PlayerSelector) SelectActive(ctx context.Context) (PlayerHandle, error) {
	candidates, err := ps.ListPlayers(ctx)
	if err != nil {
		return "", err
	}

	return ps.selectFrom(ctx, candidates, true)
}

// PeekActive runs the same priority order as SelectActive but never records
// the result - the watcher task stays the only writer of the last-active
// memory, while user-triggered commands just need a target
func (ps *PlayerSelector) PeekActive(ctx context.Context) (PlayerHandle, error) {
	candidates, err := ps.ListPlayers(ctx)
	if err != nil {
		return "", err
	}

	return ps.selectFrom(ctx, candidates, false)
}

func (ps *PlayerSelector) selectFrom(ctx context.Context, candidates []PlayerHandle, record bool) (PlayerHandle, error) {
	if len(candidates) == 0 {
		return "", ErrNoPlayerFound
	}

	for _, candidate := range candidates {
		// best-effort: a candidate that fails to answer is treated as not playing
		if ps.PlaybackState(ctx, candidate) == PlaybackPlaying {
			ps.logger.Infow("Found actively playing player", "player", candidate)

			if record {
				ps.state.SetLastActivePlayer(candidate)
			}

			return candidate, nil
		}
	}

	if last := ps.state.LastActivePlayer(); last != "" {
		for _, candidate := range candidates {
			if candidate == last {
				ps.logger.Infow("No active player, using last active", "player", last)
				return last, nil
			}
		}
	}

	ps.logger.Infow("No active or remembered player, using first available", "player", candidates[0])

	return candidates[0], nil
}

// PlaybackState queries a player's playback status, best-effort
func (ps *PlayerSelector) PlaybackState(ctx context.Context, player PlayerHandle) PlaybackState {
	variant, err := ps.bus.GetProperty(ctx, string(player), mprisObjectPath, propPlaybackStatus)
	if err != nil {
		return PlaybackUnknown
	}

	status, ok := variant.Value().(string)
	if !ok {
		return PlaybackUnknown
	}

	return parsePlaybackState(status)
}

// PlayersForApp returns all player handles belonging to one application
// identity (e.g. "firefox" matches org.mpris.MediaPlayer2.firefox and its
// .instanceNNN variants), sorted lexicographically
func (ps *PlayerSelector) PlayersForApp(ctx context.Context, appIdentity string) []PlayerHandle {
	candidates, err := ps.ListPlayers(ctx)
	if err != nil {
		return nil
	}

	searchPattern := strings.ToLower(mprisPrefix + appIdentity)

	matching := []PlayerHandle{}
	for _, candidate := range candidates {
		if strings.HasPrefix(strings.ToLower(string(candidate)), searchPattern) {
			matching = append(matching, candidate)
		}
	}

	sort.Slice(matching, func(i, j int) bool { return matching[i] < matching[j] })

	return matching
}

// ArtReference returns the player's current art reference from its metadata,
// or an empty string if there is none
func (ps *PlayerSelector) ArtReference(ctx context.Context, player PlayerHandle) string {
	variant, err := ps.bus.GetProperty(ctx, string(player), mprisObjectPath, propMetadata)
	if err != nil {
		return ""
	}

	return artReferenceFromMetadata(variant.Value())
}

// artReferenceFromMetadata digs the art URL out of a decoded Metadata
// property value. Malformed shapes yield an empty string, never an error
func artReferenceFromMetadata(metadata interface{}) string {
	dict, ok := metadata.(map[string]dbus.Variant)
	if !ok {
		return ""
	}

	variant, ok := dict[metadataArtURLKey]
	if !ok {
		return ""
	}

	url, ok := variant.Value().(string)
	if !ok {
		return ""
	}

	return url
}
