package mediadeck

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

// ErrAmbiguousMatch indicates that streams outnumber player instances for an
// application, so positional matching can't be trusted
var ErrAmbiguousMatch = errors.New("cannot reliably match streams to player instances")

// SinkInputMatcher correlates one audio stream with the media-player instance
// it most likely belongs to. The underlying protocols carry no explicit
// cross-reference, so this is positional matching over two sorted lists - and
// it refuses outright rather than guess when the lists can't line up
type SinkInputMatcher struct {
	logger   *zap.SugaredLogger
	mixer    Mixer
	selector *PlayerSelector
	art      *ArtResolver
}

func newSinkInputMatcher(logger *zap.SugaredLogger, mixer Mixer, selector *PlayerSelector, art *ArtResolver) *SinkInputMatcher {
	return &SinkInputMatcher{
		logger:   logger.Named("match"),
		mixer:    mixer,
		selector: selector,
		art:      art,
	}
}

// MatchSinkToPlayer finds the player instance corresponding to the given
// stream. Returns ErrNoPlayerFound when the stream is gone or no instance
// lines up, and ErrAmbiguousMatch when one app owns more streams than it
// exposes player instances (multi-tab browsers, typically)
func (sm *SinkInputMatcher) MatchSinkToPlayer(ctx context.Context, targetSinkID uint32, appIdentity string) (PlayerHandle, error) {
	inputs, err := sm.mixer.SinkInputs()
	if err != nil {
		return "", err
	}

	// positional matching needs ascending stream identifiers; don't rely on
	// the mixer's enumeration order
	sinkSeq := []uint32{}
	for _, input := range inputs {
		if input.Binary == appIdentity {
			sinkSeq = append(sinkSeq, input.ID)
		}
	}
	sort.Slice(sinkSeq, func(i, j int) bool { return sinkSeq[i] < sinkSeq[j] })

	// the stream may have closed between the caller's read and this call
	index := -1
	for i, id := range sinkSeq {
		if id == targetSinkID {
			index = i
			break
		}
	}
	if index < 0 {
		return "", ErrNoPlayerFound
	}

	playerSeq := sm.selector.PlayersForApp(ctx, appIdentity)

	sm.logger.Debugw("Matching stream to player instance",
		"targetSinkID", targetSinkID,
		"appIdentity", appIdentity,
		"sinkSeq", sinkSeq,
		"playerSeq", playerSeq)

	if len(sinkSeq) > len(playerSeq) {
		sm.logger.Warnw("More streams than player instances, refusing to match",
			"appIdentity", appIdentity,
			"streams", len(sinkSeq),
			"players", len(playerSeq))

		return "", ErrAmbiguousMatch
	}

	if index >= len(playerSeq) {
		return "", ErrNoPlayerFound
	}

	return playerSeq[index], nil
}

// ArtForSinkInput resolves the art for a specific stream: the positionally
// matched player instance first, then - if matching refused or the match has
// no usable art - every instance of the app in order. An empty result means
// the caller should show its default visual
func (sm *SinkInputMatcher) ArtForSinkInput(ctx context.Context, targetSinkID uint32, appIdentity string) string {
	matched, err := sm.MatchSinkToPlayer(ctx, targetSinkID, appIdentity)
	if err == nil {
		if art := sm.artFromPlayer(ctx, matched); art != "" {
			return art
		}

		sm.logger.Debugw("Matched player has no usable art", "player", matched)
	} else if errors.Is(err, ErrAmbiguousMatch) {
		// ambiguity means any art we pick could belong to the wrong stream
		return ""
	}

	for _, player := range sm.selector.PlayersForApp(ctx, appIdentity) {
		if art := sm.artFromPlayer(ctx, player); art != "" {
			sm.logger.Debugw("Got fallback art", "player", player)
			return art
		}
	}

	return ""
}

func (sm *SinkInputMatcher) artFromPlayer(ctx context.Context, player PlayerHandle) string {
	reference := sm.selector.ArtReference(ctx, player)
	if reference == "" {
		return ""
	}

	payload, err := sm.art.Resolve(ctx, reference)
	if err != nil {
		return ""
	}

	return payload
}
