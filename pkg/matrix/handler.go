// Copyright 2025-2026 spore.ink

package matrix

import (
	"context"
	"errors"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
)

// handleMessage is the inbound path for room messages pushed by the
// homeserver. It resolves the room back to its alias localpart,
// normalizes the content, and hands the result to the forwarder. Events
// that cannot be attributed to a bridged room are dropped silently.
func (s *Service) handleMessage(ctx context.Context, evt *event.Event) {
	if s.fwd == nil {
		return
	}
	if evt.Sender == s.as.BotMXID() {
		return
	}
	senderLocalpart, _, err := evt.Sender.Parse()
	if err != nil {
		s.log.Debug().Str("sender", evt.Sender.String()).Msg("Ignoring event with unparseable sender")
		return
	}
	// The forwarder drops virtual senders too; skipping them here just
	// avoids the alias lookup.
	if bridge.IsVirtualLocalpart(senderLocalpart) {
		return
	}

	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		s.log.Debug().Err(err).Str("event_id", evt.ID.String()).Msg("Failed to parse event content")
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	seg, ok := bridge.NormalizeMatrixContent(content)
	if !ok {
		return
	}

	aliasLocalpart, ok := s.roomAliasLocalpart(ctx, evt.RoomID)
	if !ok {
		return
	}

	if seg.Kind == bridge.SegmentImage {
		data, err := s.downloadImage(ctx, seg.ImageMXC)
		if err != nil {
			s.log.Error().Err(err).
				Str("room_id", evt.RoomID.String()).
				Str("event_id", evt.ID.String()).
				Msg("Failed to download image from Matrix")
			return
		}
		seg.ImageData = data
	}

	s.fwd.ForwardMatrixEvent(ctx, bridge.MatrixEvent{
		RoomAliasLocalpart: aliasLocalpart,
		Sender:             evt.Sender.String(),
		SenderLocalpart:    senderLocalpart,
		Segment:            seg,
	})
}

// roomAliasLocalpart resolves a room ID to the localpart of its canonical
// alias on our homeserver. Successful lookups are cached; failures are
// not, so a room that gains an alias later starts resolving.
func (s *Service) roomAliasLocalpart(ctx context.Context, roomID id.RoomID) (string, bool) {
	s.aliasMu.Lock()
	cached, ok := s.aliasCache[roomID]
	s.aliasMu.Unlock()
	if ok {
		return cached, true
	}

	var content event.CanonicalAliasEventContent
	if err := s.as.BotIntent().StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &content); err != nil {
		s.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("No canonical alias for room")
		return "", false
	}
	localpart, server, ok := splitAlias(content.Alias.String())
	if !ok || server != s.cfg.Matrix.HomeserverName {
		return "", false
	}

	s.aliasMu.Lock()
	s.aliasCache[roomID] = localpart
	s.aliasMu.Unlock()
	return localpart, true
}

func (s *Service) downloadImage(ctx context.Context, mxc id.ContentURIString) ([]byte, error) {
	uri, err := mxc.Parse()
	if err != nil {
		return nil, err
	}
	return s.as.BotIntent().DownloadBytes(ctx, uri)
}
