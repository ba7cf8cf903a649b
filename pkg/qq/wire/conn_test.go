// Copyright 2025-2026 spore.ink

package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/spore-ink/fairy-ring/pkg/qq"
)

// fakeAgent is an in-process protocol agent: it upgrades one websocket
// connection, answers calls through handler, and can push event frames.
type fakeAgent struct {
	t       *testing.T
	srv     *httptest.Server
	handler func(f *frame) *frame

	mu    sync.Mutex
	ws    *websocket.Conn
	init  *frame
	ready chan struct{}
}

func newFakeAgent(t *testing.T, handler func(f *frame) *frame) *fakeAgent {
	t.Helper()
	agent := &fakeAgent{t: t, handler: handler, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	agent.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		agent.mu.Lock()
		agent.ws = ws
		agent.mu.Unlock()
		for {
			var f frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			if f.Action == "session.init" {
				agent.mu.Lock()
				agent.init = &f
				agent.mu.Unlock()
				close(agent.ready)
				continue
			}
			if resp := agent.handler(&f); resp != nil {
				resp.Echo = f.Echo
				if err := ws.WriteJSON(resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(agent.srv.Close)
	return agent
}

func (a *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http")
}

func (a *fakeAgent) push(f *frame) {
	a.mu.Lock()
	ws := a.ws
	a.mu.Unlock()
	if err := ws.WriteJSON(f); err != nil {
		a.t.Errorf("push failed: %v", err)
	}
}

func (a *fakeAgent) closeConn() {
	a.mu.Lock()
	ws := a.ws
	a.mu.Unlock()
	ws.Close()
}

func startConn(t *testing.T, agent *fakeAgent) (*Conn, <-chan error) {
	t.Helper()
	device := qq.NewRandomDevice()
	conn := NewConn(agent.url(), device, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	runErr := make(chan error, 1)
	go func() {
		runErr <- conn.Run(ctx)
	}()
	select {
	case <-agent.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never received session.init")
	}
	return conn, runErr
}

func TestConnectAnnouncesDevice(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame { return nil })
	conn, _ := startConn(t, agent)
	_ = conn

	agent.mu.Lock()
	init := agent.init
	agent.mu.Unlock()
	var device qq.Device
	if err := json.Unmarshal(init.Params, &device); err != nil {
		t.Fatalf("failed to decode init params: %v", err)
	}
	if device.IMEI == "" || device.GUID == "" {
		t.Errorf("init frame carries incomplete device: %+v", device)
	}
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame {
		if f.Action != "group.send_text" {
			t.Errorf("action = %q, want group.send_text", f.Action)
		}
		var params struct {
			GroupID int64  `json:"group_id"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(f.Params, &params); err != nil {
			t.Errorf("failed to decode params: %v", err)
		}
		if params.GroupID != 100 || params.Text != "hello" {
			t.Errorf("params = %+v", params)
		}
		return &frame{Status: statusOK}
	})
	conn, _ := startConn(t, agent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.SendGroupText(ctx, 100, "hello"); err != nil {
		t.Fatalf("SendGroupText failed: %v", err)
	}
}

func TestCallDecodesResponseData(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame {
		data, _ := json.Marshal(map[string]any{
			"groups": []map[string]any{{"id": 100, "name": "tea house"}},
		})
		return &frame{Status: statusOK, Data: data}
	})
	conn, _ := startConn(t, agent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	groups, err := conn.FetchGroupList(ctx)
	if err != nil {
		t.Fatalf("FetchGroupList failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != 100 || groups[0].Name != "tea house" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestCallFailedStatus(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame {
		return &frame{Status: statusFailed, Message: "no such group"}
	})
	conn, _ := startConn(t, agent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := conn.FetchGroupInfos(ctx, []int64{999})
	if err == nil || !strings.Contains(err.Error(), "no such group") {
		t.Fatalf("err = %v, want agent failure message", err)
	}
}

func TestPushEventDelivery(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame { return nil })
	conn, _ := startConn(t, agent)

	data, _ := json.Marshal(&qq.GroupMessage{
		GroupID:  100,
		SenderID: 42,
		Elements: []qq.Element{{Kind: qq.ElementText, Text: "hi"}},
	})
	agent.push(&frame{Event: eventGroupMessage, Data: data})

	select {
	case msg := <-conn.Events():
		if msg.GroupID != 100 || msg.SenderID != 42 || len(msg.Elements) != 1 {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestCallsServicedWhileEventConsumerStalls(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame {
		return &frame{Status: statusOK}
	})
	conn, _ := startConn(t, agent)

	// Push far more events than the event channel buffers without
	// consuming any of them. The read pump must stay free to deliver the
	// response of a concurrent call; a pump that blocks on the event
	// handoff would leave the call hanging until its deadline.
	const burst = 100
	for i := 0; i < burst; i++ {
		data, _ := json.Marshal(&qq.GroupMessage{GroupID: int64(i), SenderID: 1})
		agent.push(&frame{Event: eventGroupMessage, Data: data})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.SendGroupText(ctx, 100, "hello"); err != nil {
		t.Fatalf("call stalled behind unconsumed events: %v", err)
	}

	// The backlog drains in arrival order once the consumer catches up.
	for i := 0; i < burst; i++ {
		select {
		case msg := <-conn.Events():
			if msg.GroupID != int64(i) {
				t.Fatalf("event %d arrived with group id %d", i, msg.GroupID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event stream stalled after %d events", i)
		}
	}
}

func TestConnectionLossTerminatesRun(t *testing.T) {
	t.Parallel()
	agent := newFakeAgent(t, func(f *frame) *frame { return nil })
	conn, runErr := startConn(t, agent)

	agent.closeConn()
	select {
	case err := <-runErr:
		if err == nil {
			t.Error("Run returned nil after abnormal connection loss")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after connection loss")
	}
	// The event stream is closed so consumers do not block forever.
	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Error("unexpected event after connection loss")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event stream not closed")
	}
}

func TestQRStatusStateMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state string
		want  qq.QRCodeState
	}{
		{"image_fetch", qq.QRStateImageFetch},
		{"timeout", qq.QRStateTimeout},
		{"confirmed", qq.QRStateConfirmed},
		{"canceled", qq.QRStateCanceled},
		{"waiting_scan", qq.QRStateOther},
		{"", qq.QRStateOther},
	}
	for _, test := range tests {
		payload := qrStatusPayload{State: test.state}
		if got := payload.toStatus().State; got != test.want {
			t.Errorf("state %q mapped to %d, want %d", test.state, got, test.want)
		}
	}
}
