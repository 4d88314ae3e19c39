package mediadeck

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

const (
	playerSpotify = "org.mpris.MediaPlayer2.spotify"
	playerFirefox = "org.mpris.MediaPlayer2.firefox"
	playerVLC     = "org.mpris.MediaPlayer2.vlc"
)

func newTestSelector(bus Bus, state *State) *PlayerSelector {
	return newPlayerSelector(zap.NewNop().Sugar(), bus, state, noIgnoredPlayers)
}

func TestSelectActivePrefersPlayingPlayer(t *testing.T) {
	bus := newFakeBus(playerSpotify, playerFirefox, playerVLC)
	bus.setProp(playerSpotify, propPlaybackStatus, "Paused")
	bus.setProp(playerFirefox, propPlaybackStatus, "Playing")

	state := NewState()
	selector := newTestSelector(bus, state)

	selected, err := selector.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive returned error: %v", err)
	}
	if selected != PlayerHandle(playerFirefox) {
		t.Fatalf("expected %s, got %s", playerFirefox, selected)
	}
	if state.LastActivePlayer() != PlayerHandle(playerFirefox) {
		t.Fatalf("expected last active player to be recorded, got %q", state.LastActivePlayer())
	}
}

func TestSelectActiveFallsBackToLastActive(t *testing.T) {
	bus := newFakeBus(playerSpotify, playerFirefox)
	bus.setProp(playerSpotify, propPlaybackStatus, "Paused")
	bus.setProp(playerFirefox, propPlaybackStatus, "Paused")

	state := NewState()
	state.SetLastActivePlayer(PlayerHandle(playerFirefox))

	selector := newTestSelector(bus, state)

	selected, err := selector.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive returned error: %v", err)
	}
	if selected != PlayerHandle(playerFirefox) {
		t.Fatalf("expected last active %s, got %s", playerFirefox, selected)
	}
	if state.LastActivePlayer() != PlayerHandle(playerFirefox) {
		t.Fatalf("last active player must not change on the fallback path")
	}
}

func TestSelectActiveIgnoresStaleLastActive(t *testing.T) {
	bus := newFakeBus(playerSpotify, playerFirefox)

	state := NewState()
	state.SetLastActivePlayer(PlayerHandle(playerVLC)) // gone from the bus

	selector := newTestSelector(bus, state)

	selected, err := selector.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive returned error: %v", err)
	}
	if selected != PlayerHandle(playerSpotify) {
		t.Fatalf("expected first candidate %s, got %s", playerSpotify, selected)
	}
}

func TestSelectActiveReturnsFirstCandidateDeterministically(t *testing.T) {
	bus := newFakeBus(playerVLC, playerSpotify)

	selector := newTestSelector(bus, NewState())

	for i := 0; i < 3; i++ {
		selected, err := selector.SelectActive(context.Background())
		if err != nil {
			t.Fatalf("SelectActive returned error: %v", err)
		}
		if selected != PlayerHandle(playerVLC) {
			t.Fatalf("expected first enumerated candidate %s, got %s", playerVLC, selected)
		}
	}
}

func TestSelectActiveEmptySetFails(t *testing.T) {
	bus := newFakeBus("org.freedesktop.Notifications") // nothing player-shaped

	selector := newTestSelector(bus, NewState())

	_, err := selector.SelectActive(context.Background())
	if !errors.Is(err, ErrNoPlayerFound) {
		t.Fatalf("expected ErrNoPlayerFound, got %v", err)
	}
}

func TestSelectActiveTreatsUnansweringCandidateAsNotPlaying(t *testing.T) {
	// spotify has no PlaybackStatus property at all
	bus := newFakeBus(playerSpotify, playerFirefox)
	bus.setProp(playerFirefox, propPlaybackStatus, "Playing")

	selector := newTestSelector(bus, NewState())

	selected, err := selector.SelectActive(context.Background())
	if err != nil {
		t.Fatalf("SelectActive returned error: %v", err)
	}
	if selected != PlayerHandle(playerFirefox) {
		t.Fatalf("expected %s, got %s", playerFirefox, selected)
	}
}

func TestPeekActiveDoesNotRecord(t *testing.T) {
	bus := newFakeBus(playerSpotify)
	bus.setProp(playerSpotify, propPlaybackStatus, "Playing")

	state := NewState()
	selector := newTestSelector(bus, state)

	selected, err := selector.PeekActive(context.Background())
	if err != nil {
		t.Fatalf("PeekActive returned error: %v", err)
	}
	if selected != PlayerHandle(playerSpotify) {
		t.Fatalf("expected %s, got %s", playerSpotify, selected)
	}
	if state.LastActivePlayer() != "" {
		t.Fatalf("PeekActive must not record the last active player, got %q", state.LastActivePlayer())
	}
}

func TestListPlayersFiltersIgnoredServices(t *testing.T) {
	bus := newFakeBus(playerSpotify, "org.mpris.MediaPlayer2.playerctld", "com.example.Other")

	selector := newPlayerSelector(zap.NewNop().Sugar(), bus, NewState(),
		func() []string { return []string{"playerctld"} })

	players, err := selector.ListPlayers(context.Background())
	if err != nil {
		t.Fatalf("ListPlayers returned error: %v", err)
	}
	if len(players) != 1 || players[0] != PlayerHandle(playerSpotify) {
		t.Fatalf("expected only %s, got %v", playerSpotify, players)
	}
}

func TestPlayersForAppSortsLexicographically(t *testing.T) {
	bus := newFakeBus(
		"org.mpris.MediaPlayer2.brave.instance9",
		"org.mpris.MediaPlayer2.brave.instance12",
		playerSpotify,
	)

	selector := newTestSelector(bus, NewState())

	players := selector.PlayersForApp(context.Background(), "brave")
	if len(players) != 2 {
		t.Fatalf("expected 2 brave instances, got %v", players)
	}
	if players[0] != "org.mpris.MediaPlayer2.brave.instance12" {
		t.Fatalf("expected lexicographic order, got %v", players)
	}
}

func TestPlayersForAppMatchesRegardlessOfCase(t *testing.T) {
	// the mixer reports "Brave" while the bus name uses "brave"; the bus-name
	// prefix itself is mixed-case and must survive the comparison too
	bus := newFakeBus("org.mpris.MediaPlayer2.brave.instanceA")

	selector := newTestSelector(bus, NewState())

	players := selector.PlayersForApp(context.Background(), "Brave")
	if len(players) != 1 || players[0] != "org.mpris.MediaPlayer2.brave.instanceA" {
		t.Fatalf("expected a case-insensitive match, got %v", players)
	}
}

func TestArtReferenceFromMetadata(t *testing.T) {
	bus := newFakeBus(playerSpotify)
	bus.setProp(playerSpotify, propMetadata, map[string]interface{}{})

	selector := newTestSelector(bus, NewState())

	// malformed metadata shape yields an empty reference, not an error
	if got := selector.ArtReference(context.Background(), PlayerHandle(playerSpotify)); got != "" {
		t.Fatalf("expected empty reference for malformed metadata, got %q", got)
	}
}
