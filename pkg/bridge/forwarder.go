// Copyright 2025-2026 spore.ink

package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MatrixPort is the surface the forwarder needs from the Matrix appservice
// gateway. All operations act as the named virtual user.
type MatrixPort interface {
	// EnsureRegistered registers the virtual user if it does not exist
	// yet. Registering an already-registered user is success, not an
	// error.
	EnsureRegistered(ctx context.Context, localpart string) error
	// JoinRoomByAlias joins the room behind the alias as the given user,
	// creating local room membership lazily. Returns the resolved room id.
	JoinRoomByAlias(ctx context.Context, localpart, alias string) (roomID string, err error)
	// SetRoomDisplayName sets the user's room-scoped display name.
	SetRoomDisplayName(ctx context.Context, localpart, roomID, displayName string) error
	SendText(ctx context.Context, localpart, roomID, body string) error
	SendImage(ctx context.Context, localpart, roomID, mime string, data []byte) error
}

// QQPort is the surface the forwarder needs from the QQ session.
type QQPort interface {
	SendGroupText(ctx context.Context, groupID int64, text string) error
	SendGroupImage(ctx context.Context, groupID int64, data []byte) error
}

// maxImageBytes caps how large a referenced image may be. Anything larger
// is rejected rather than truncated: a clipped attachment would relay as
// a corrupt file.
const maxImageBytes int64 = 50 << 20

// Forwarder delivers normalized bridge messages to the opposite network.
// Delivery is synchronous with the inbound event that triggered it and is
// never retried: a failed message is logged with its group/user context
// and dropped, so one bad message cannot stall the event stream.
type Forwarder struct {
	cfg           *Config
	matrix        MatrixPort
	qq            QQPort
	http          *http.Client
	maxImageBytes int64
	log           zerolog.Logger
}

// NewForwarder wires a forwarder to both network ports.
func NewForwarder(cfg *Config, matrix MatrixPort, qq QQPort, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		cfg:           cfg,
		matrix:        matrix,
		qq:            qq,
		http:          &http.Client{Timeout: 30 * time.Second},
		maxImageBytes: maxImageBytes,
		log:           log.With().Str("component", "forwarder").Logger(),
	}
}

// DeliverToMatrix relays one QQ-origin message into the bridged room for
// its group. Registration or join failures abort the whole message; a
// display name failure is cosmetic and logged only; segment delivery
// failures are logged per segment and do not stop later segments, since
// each segment is an independent event on the Matrix side.
func (f *Forwarder) DeliverToMatrix(ctx context.Context, msg *BridgeMessage) error {
	localpart := VirtualLocalpart(msg.CounterpartyID)
	if err := f.matrix.EnsureRegistered(ctx, localpart); err != nil {
		return fmt.Errorf("failed to register virtual user %s for QQ user %d: %w", localpart, msg.CounterpartyID, err)
	}

	alias := RoomAlias(msg.GroupID, f.cfg.Matrix.HomeserverName)
	roomID, err := f.matrix.JoinRoomByAlias(ctx, localpart, alias)
	if err != nil {
		return fmt.Errorf("virtual user %s failed to join room %s: %w", localpart, alias, err)
	}

	if msg.DisplayName != "" {
		if err := f.matrix.SetRoomDisplayName(ctx, localpart, roomID, msg.DisplayName); err != nil {
			f.log.Error().Err(err).
				Str("room_id", roomID).
				Str("localpart", localpart).
				Msg("Failed to set room display name")
		}
	}

	for i, seg := range msg.Segments {
		if err := f.deliverSegmentToMatrix(ctx, localpart, roomID, seg); err != nil {
			f.log.Error().Err(err).
				Int("segment", i).
				Int64("group_id", msg.GroupID).
				Int64("user_id", msg.CounterpartyID).
				Msg("Failed to deliver segment to Matrix")
		}
	}
	return nil
}

func (f *Forwarder) deliverSegmentToMatrix(ctx context.Context, localpart, roomID string, seg Segment) error {
	switch seg.Kind {
	case SegmentText:
		return f.matrix.SendText(ctx, localpart, roomID, seg.Text)
	case SegmentImage:
		data, mime := seg.ImageData, seg.ImageMime
		if data == nil && seg.ImageURL != "" {
			var err error
			data, mime, err = f.fetchImage(ctx, seg.ImageURL)
			if err != nil {
				return err
			}
		}
		if data == nil {
			return fmt.Errorf("image segment has no data or URL")
		}
		return f.matrix.SendImage(ctx, localpart, roomID, mime, data)
	default:
		return fmt.Errorf("unknown segment kind %d", seg.Kind)
	}
}

// fetchImage downloads a QQ-origin image reference, returning the bytes
// and the MIME type declared by the server.
func (f *Forwarder) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch image %s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > f.maxImageBytes {
		return nil, "", fmt.Errorf("image %s exceeds %d byte limit", url, f.maxImageBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// MatrixEvent is one inbound Matrix message as seen by the forwarder:
// the room's alias localpart (empty if the room has no canonical alias),
// the sender, and the already-normalized segment.
type MatrixEvent struct {
	RoomAliasLocalpart string
	Sender             string
	SenderLocalpart    string
	Segment            Segment
}

// ForwardMatrixEvent relays one Matrix-origin event into its QQ group.
// Rooms outside the alias naming scheme and events from virtual users are
// ignored silently; they are expected traffic, not errors.
func (f *Forwarder) ForwardMatrixEvent(ctx context.Context, evt MatrixEvent) {
	groupID, ok := ParseAliasLocalpart(evt.RoomAliasLocalpart)
	if !ok {
		return
	}
	if IsVirtualLocalpart(evt.SenderLocalpart) {
		// Echo prevention: the event was produced by this bridge.
		return
	}
	msg := &BridgeMessage{
		Direction:   FromMatrix,
		GroupID:     groupID,
		DisplayName: evt.Sender,
		Segments:    []Segment{evt.Segment},
	}
	f.DeliverToQQ(ctx, msg)
}

// DeliverToQQ relays one Matrix-origin message into its QQ group. Text
// segments are rendered with the sender prefix; image segments are
// uploaded and sent as group images. Failures are logged per segment and
// the remaining segments are still attempted.
func (f *Forwarder) DeliverToQQ(ctx context.Context, msg *BridgeMessage) {
	for i, seg := range msg.Segments {
		var err error
		switch seg.Kind {
		case SegmentText:
			err = f.qq.SendGroupText(ctx, msg.GroupID, fmt.Sprintf("%s: %s", msg.DisplayName, seg.Text))
		case SegmentImage:
			err = f.qq.SendGroupImage(ctx, msg.GroupID, seg.ImageData)
		default:
			err = fmt.Errorf("unknown segment kind %d", seg.Kind)
		}
		if err != nil {
			f.log.Error().Err(err).
				Int("segment", i).
				Int64("group_id", msg.GroupID).
				Str("sender", msg.DisplayName).
				Msg("Failed to deliver segment to QQ")
		}
	}
}
