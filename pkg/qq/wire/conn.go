// Copyright 2025-2026 spore.ink

// Package wire is the websocket transport between the bridge and the QQ
// protocol agent, the external component that actually speaks the QQ wire
// protocol. Requests and responses are JSON frames correlated by an echo
// id; group messages and other pushes arrive as event frames.
package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"

	"github.com/spore-ink/fairy-ring/pkg/qq"
)

// frame is the wire representation of every message in either direction.
// Requests carry Action+Echo+Params; responses carry Echo+Status(+Data);
// pushes carry Event+Data.
type frame struct {
	Action  string          `json:"action,omitempty"`
	Echo    string          `json:"echo,omitempty"`
	Event   string          `json:"event,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	statusOK     = "ok"
	statusFailed = "failed"

	eventGroupMessage = "group_message"
)

// Conn is one websocket session with the protocol agent. It implements
// qq.API.
type Conn struct {
	url    string
	device *qq.Device
	log    zerolog.Logger

	ws      *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *frame

	// Push events are queued here by the read pump and drained into the
	// events channel by a dedicated dispatch goroutine. The pump must
	// never block on the event consumer: the consumer issues calls whose
	// responses arrive through the same pump, so a blocking handoff
	// deadlocks both sides once the consumer falls behind.
	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []*qq.GroupMessage
	queueDone bool

	events chan *qq.GroupMessage
}

var _ qq.API = (*Conn)(nil)

// NewConn prepares a connection to the agent at url. The device
// credential is presented during session setup so the agent reuses the
// same logical device across restarts.
func NewConn(url string, device *qq.Device, log zerolog.Logger) *Conn {
	conn := &Conn{
		url:     url,
		device:  device,
		log:     log.With().Str("component", "qq_wire").Logger(),
		pending: make(map[string]chan *frame),
		events:  make(chan *qq.GroupMessage, 32),
	}
	conn.queueCond = sync.NewCond(&conn.queueMu)
	return conn
}

// Connect dials the agent and announces the device credential. The init
// frame expects no response, so it is safe to send before the read pump
// starts.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial QQ gateway %s: %w", c.url, err)
	}
	c.ws = ws

	params, err := json.Marshal(c.device)
	if err != nil {
		return fmt.Errorf("failed to encode device credential: %w", err)
	}
	if err := c.writeFrame(&frame{Action: "session.init", Params: params}); err != nil {
		ws.Close()
		return fmt.Errorf("failed to announce device credential: %w", err)
	}
	c.log.Info().Str("url", c.url).Msg("Connected to QQ gateway")
	return nil
}

// Run is the read pump. It dispatches response frames to waiting callers
// and push frames to the event stream, until the socket dies or ctx is
// canceled.
func (c *Conn) Run(ctx context.Context) error {
	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	stop := context.AfterFunc(ctx, func() {
		c.ws.Close()
	})
	defer stop()
	defer c.closeQueue()
	defer c.failPending()
	go c.dispatchEvents()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("QQ gateway read failed: %w", err)
		}
		switch {
		case f.Echo != "":
			c.dispatchResponse(&f)
		case f.Event == eventGroupMessage:
			var msg qq.GroupMessage
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				c.log.Warn().Err(err).Msg("Failed to decode group message event")
				continue
			}
			c.enqueueEvent(&msg)
		default:
			c.log.Trace().Str("event", f.Event).Msg("Unhandled gateway event")
		}
	}
}

// Events implements qq.API.
func (c *Conn) Events() <-chan *qq.GroupMessage {
	return c.events
}

func (c *Conn) enqueueEvent(msg *qq.GroupMessage) {
	c.queueMu.Lock()
	c.queue = append(c.queue, msg)
	c.queueMu.Unlock()
	c.queueCond.Signal()
}

// closeQueue marks the queue finished when the read pump exits. The
// dispatcher drains what is left and then closes the event stream.
func (c *Conn) closeQueue() {
	c.queueMu.Lock()
	c.queueDone = true
	c.queueMu.Unlock()
	c.queueCond.Signal()
}

// dispatchEvents is the single consumer of the push-event queue. It
// preserves arrival order and absorbs any event backlog, so the read pump
// stays free to deliver response frames.
func (c *Conn) dispatchEvents() {
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.queueDone {
			c.queueCond.Wait()
		}
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			close(c.events)
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()
		c.events <- msg
	}
}

func (c *Conn) dispatchResponse(f *frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.Echo]
	delete(c.pending, f.Echo)
	c.pendingMu.Unlock()
	if !ok {
		c.log.Warn().Str("echo", f.Echo).Msg("Response with no pending call")
		return
	}
	ch <- f
}

// failPending unblocks callers waiting on a response when the read pump
// exits; their calls fail instead of hanging forever.
func (c *Conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
}

func (c *Conn) writeFrame(f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

// call performs one request/response exchange. out, when non-nil,
// receives the decoded response data.
func (c *Conn) call(ctx context.Context, action string, params, out any) error {
	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", action, err)
		}
	}

	echo := random.String(8)
	ch := make(chan *frame, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(&frame{Action: action, Echo: echo, Params: rawParams}); err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s failed: connection closed", action)
		}
		if resp.Status != statusOK {
			return fmt.Errorf("%s failed: %s", action, resp.Message)
		}
		if out != nil && resp.Data != nil {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", action, err)
			}
		}
		return nil
	}
}

// qrStatusPayload is the agent's QR status report. Byte fields are
// base64 on the wire, which encoding/json handles natively.
type qrStatusPayload struct {
	State       string `json:"state"`
	Image       []byte `json:"image,omitempty"`
	Signature   []byte `json:"signature,omitempty"`
	TmpPassword []byte `json:"tmp_password,omitempty"`
	TmpNoPicSig []byte `json:"tmp_no_pic_sig,omitempty"`
	TGTQR       []byte `json:"tgt_qr,omitempty"`
}

func (p *qrStatusPayload) toStatus() *qq.QRCodeStatus {
	status := &qq.QRCodeStatus{
		ImageData:   p.Image,
		Signature:   p.Signature,
		TmpPassword: p.TmpPassword,
		TmpNoPicSig: p.TmpNoPicSig,
		TGTQR:       p.TGTQR,
	}
	switch p.State {
	case "image_fetch":
		status.State = qq.QRStateImageFetch
	case "timeout":
		status.State = qq.QRStateTimeout
	case "confirmed":
		status.State = qq.QRStateConfirmed
	case "canceled":
		status.State = qq.QRStateCanceled
	default:
		status.State = qq.QRStateOther
	}
	return status
}

type loginResultPayload struct {
	Success            bool   `json:"success"`
	DeviceLockRequired bool   `json:"device_lock_required"`
	Message            string `json:"message,omitempty"`
}

func (p *loginResultPayload) toResult() *qq.LoginResult {
	return &qq.LoginResult{
		Success:            p.Success,
		DeviceLockRequired: p.DeviceLockRequired,
		Message:            p.Message,
	}
}

// FetchQRCode implements qq.LoginAPI.
func (c *Conn) FetchQRCode(ctx context.Context) (*qq.QRCodeStatus, error) {
	var payload qrStatusPayload
	if err := c.call(ctx, "login.fetch_qrcode", nil, &payload); err != nil {
		return nil, err
	}
	return payload.toStatus(), nil
}

// QueryQRCodeStatus implements qq.LoginAPI.
func (c *Conn) QueryQRCodeStatus(ctx context.Context, signature []byte) (*qq.QRCodeStatus, error) {
	params := map[string]any{"signature": signature}
	var payload qrStatusPayload
	if err := c.call(ctx, "login.query_qrcode", params, &payload); err != nil {
		return nil, err
	}
	return payload.toStatus(), nil
}

// QRCodeLogin implements qq.LoginAPI.
func (c *Conn) QRCodeLogin(ctx context.Context, tmpPassword, tmpNoPicSig, tgtQR []byte) (*qq.LoginResult, error) {
	params := map[string]any{
		"tmp_password":   tmpPassword,
		"tmp_no_pic_sig": tmpNoPicSig,
		"tgt_qr":         tgtQR,
	}
	var payload loginResultPayload
	if err := c.call(ctx, "login.qrcode_login", params, &payload); err != nil {
		return nil, err
	}
	return payload.toResult(), nil
}

// DeviceLockLogin implements qq.LoginAPI.
func (c *Conn) DeviceLockLogin(ctx context.Context) (*qq.LoginResult, error) {
	var payload loginResultPayload
	if err := c.call(ctx, "login.device_lock", nil, &payload); err != nil {
		return nil, err
	}
	return payload.toResult(), nil
}

// FetchGroupList implements qq.GroupAPI.
func (c *Conn) FetchGroupList(ctx context.Context) ([]qq.GroupInfo, error) {
	var payload struct {
		Groups []qq.GroupInfo `json:"groups"`
	}
	if err := c.call(ctx, "group.list", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Groups, nil
}

// FetchGroupInfos implements qq.GroupAPI.
func (c *Conn) FetchGroupInfos(ctx context.Context, groupIDs []int64) ([]qq.GroupInfo, error) {
	params := map[string]any{"group_ids": groupIDs}
	var payload struct {
		Groups []qq.GroupInfo `json:"groups"`
	}
	if err := c.call(ctx, "group.info", params, &payload); err != nil {
		return nil, err
	}
	return payload.Groups, nil
}

// FetchGroupMemberName implements qq.API. The group card name wins over
// the account nickname when both are set.
func (c *Conn) FetchGroupMemberName(ctx context.Context, groupID, userID int64) (string, error) {
	params := map[string]any{"group_id": groupID, "user_id": userID}
	var payload struct {
		CardName string `json:"card_name"`
		Nickname string `json:"nickname"`
	}
	if err := c.call(ctx, "group.member_info", params, &payload); err != nil {
		return "", err
	}
	if payload.CardName != "" {
		return payload.CardName, nil
	}
	return payload.Nickname, nil
}

// UploadGroupImage implements qq.API.
func (c *Conn) UploadGroupImage(ctx context.Context, groupID int64, data []byte) (string, error) {
	params := map[string]any{"group_id": groupID, "data": data}
	var payload struct {
		Handle string `json:"handle"`
	}
	if err := c.call(ctx, "group.upload_image", params, &payload); err != nil {
		return "", err
	}
	return payload.Handle, nil
}

// SendGroupText implements qq.API.
func (c *Conn) SendGroupText(ctx context.Context, groupID int64, text string) error {
	params := map[string]any{"group_id": groupID, "text": text}
	return c.call(ctx, "group.send_text", params, nil)
}

// SendGroupImage implements qq.API.
func (c *Conn) SendGroupImage(ctx context.Context, groupID int64, handle string) error {
	params := map[string]any{"group_id": groupID, "handle": handle}
	return c.call(ctx, "group.send_image", params, nil)
}
