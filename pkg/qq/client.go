// Copyright 2025-2026 spore.ink

// Package qq implements the QQ side of the fairy-ring bridge: the session
// run loop, the QR login state machine, device credential persistence,
// raw element normalization, and the startup membership check. All of it
// is written against the API interface; the wire subpackage provides the
// concrete transport.
package qq

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
)

// matrixDeliverer is the slice of the forwarder the dispatch loop needs.
// An interface so tests can capture deliveries without a real forwarder.
type matrixDeliverer interface {
	DeliverToMatrix(ctx context.Context, msg *bridge.BridgeMessage) error
}

// Client runs one authenticated QQ session and dispatches its inbound
// group messages into the forwarder. It also implements bridge.QQPort for
// the opposite direction.
type Client struct {
	api       API
	cfg       *bridge.Config
	forwarder matrixDeliverer
	log       zerolog.Logger
}

var _ bridge.QQPort = (*Client)(nil)

// NewClient wraps a session runtime. The forwarder must be set with
// SetForwarder before Run.
func NewClient(api API, cfg *bridge.Config, log zerolog.Logger) *Client {
	return &Client{
		api: api,
		cfg: cfg,
		log: log.With().Str("component", "qq_client").Logger(),
	}
}

// SetForwarder wires the QQ-to-Matrix delivery path.
func (c *Client) SetForwarder(fwd matrixDeliverer) {
	c.forwarder = fwd
}

// Run connects the transport, logs in, reports unjoined groups, and then
// dispatches inbound events until the transport dies or ctx is canceled.
// Any termination, including a canceled login, is fatal to the caller.
func (c *Client) Run(ctx context.Context) error {
	if err := c.api.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to QQ gateway: %w", err)
	}

	transportErr := make(chan error, 1)
	go func() {
		transportErr <- c.api.Run(ctx)
	}()
	// Let the transport task start servicing I/O before the first login
	// request goes out, or the request would have nobody to read its
	// response.
	runtime.Gosched()

	if err := QRLogin(ctx, c.api, c.cfg.QQ.QRCodePath, c.log); err != nil {
		return fmt.Errorf("QQ login failed: %w", err)
	}

	ReportUnjoinedGroups(ctx, c.api, c.cfg.QQ.Groups, c.log)

	for {
		select {
		case err := <-transportErr:
			if err != nil {
				return fmt.Errorf("QQ transport terminated: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.api.Events():
			if !ok {
				return fmt.Errorf("QQ event stream closed")
			}
			c.handleGroupMessage(ctx, msg)
		}
	}
}

// handleGroupMessage normalizes one inbound group event and forwards it.
// Events are processed one at a time in arrival order; a slow delivery
// blocks later QQ events rather than reordering them.
func (c *Client) handleGroupMessage(ctx context.Context, msg *GroupMessage) {
	if !c.cfg.BridgesGroup(msg.GroupID) {
		return
	}

	displayName, err := c.api.FetchGroupMemberName(ctx, msg.GroupID, msg.SenderID)
	if err != nil {
		c.log.Error().Err(err).
			Int64("group_id", msg.GroupID).
			Int64("user_id", msg.SenderID).
			Msg("Failed to fetch group member info")
		displayName = ""
	}

	segments := NormalizeElements(msg.Elements)
	if len(segments) == 0 {
		return
	}

	bm := &bridge.BridgeMessage{
		Direction:      bridge.FromQQ,
		GroupID:        msg.GroupID,
		CounterpartyID: msg.SenderID,
		DisplayName:    displayName,
		Segments:       segments,
	}
	if err := c.forwarder.DeliverToMatrix(ctx, bm); err != nil {
		c.log.Error().Err(err).
			Int64("group_id", msg.GroupID).
			Int64("user_id", msg.SenderID).
			Msg("Failed to relay message to Matrix")
	}
}

// SendGroupText implements bridge.QQPort.
func (c *Client) SendGroupText(ctx context.Context, groupID int64, text string) error {
	return c.api.SendGroupText(ctx, groupID, text)
}

// SendGroupImage implements bridge.QQPort: upload first, then send the
// resulting media handle.
func (c *Client) SendGroupImage(ctx context.Context, groupID int64, data []byte) error {
	handle, err := c.api.UploadGroupImage(ctx, groupID, data)
	if err != nil {
		return fmt.Errorf("failed to upload group image: %w", err)
	}
	return c.api.SendGroupImage(ctx, groupID, handle)
}
