// Copyright 2025-2026 spore.ink

// Package matrix adapts the mautrix appservice gateway to the ports the
// bridge core needs: idempotent virtual user registration, join-by-alias,
// room-scoped display names, text and attachment sends, and the inbound
// room message stream.
package matrix

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
)

// matrixForwarder is the slice of the forwarder the inbound handler
// needs.
type matrixForwarder interface {
	ForwardMatrixEvent(ctx context.Context, evt bridge.MatrixEvent)
}

// Service owns the appservice HTTP listener, the event processor, and
// the intent-based operations the forwarder uses. It implements
// bridge.MatrixPort.
type Service struct {
	as  *appservice.AppService
	ep  *appservice.EventProcessor
	cfg *bridge.Config
	fwd matrixForwarder
	log zerolog.Logger

	aliasMu    sync.Mutex
	aliasCache map[id.RoomID]string
}

var _ bridge.MatrixPort = (*Service)(nil)

// NewService loads the registration manifest and prepares the appservice
// runtime. The registration file's absence is a fatal startup error.
func NewService(cfg *bridge.Config, log zerolog.Logger) (*Service, error) {
	reg, err := appservice.LoadRegistration(cfg.Matrix.Registration)
	if err != nil {
		return nil, fmt.Errorf("failed to load appservice registration %s: %w", cfg.Matrix.Registration, err)
	}

	as := appservice.Create()
	as.Log = log.With().Str("component", "appservice").Logger()
	as.Registration = reg
	as.HomeserverDomain = cfg.Matrix.HomeserverName
	if err := as.SetHomeserverURL(cfg.Matrix.HomeserverURL); err != nil {
		return nil, fmt.Errorf("invalid homeserver URL %q: %w", cfg.Matrix.HomeserverURL, err)
	}

	host, port, err := listenAddress(reg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to determine listen address from registration: %w", err)
	}
	as.Host = appservice.HostConfig{Hostname: host, Port: port}

	svc := &Service{
		as:         as,
		cfg:        cfg,
		log:        log.With().Str("component", "matrix").Logger(),
		aliasCache: make(map[id.RoomID]string),
	}
	as.QueryHandler = &queryHandler{homeserver: cfg.Matrix.HomeserverName}
	svc.ep = appservice.NewEventProcessor(as)
	svc.ep.On(event.EventMessage, svc.handleMessage)
	return svc, nil
}

// SetForwarder wires the Matrix-to-QQ delivery path.
func (s *Service) SetForwarder(fwd matrixForwarder) {
	s.fwd = fwd
}

// Run registers the appservice bot and serves inbound transactions until
// ctx is canceled or the HTTP server dies.
func (s *Service) Run(ctx context.Context) error {
	if err := s.as.BotIntent().EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register appservice bot: %w", err)
	}

	s.ep.Start(ctx)
	defer s.ep.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.as.Stop()
		case <-done:
		}
	}()

	s.log.Info().
		Str("hostname", s.as.Host.Hostname).
		Uint16("port", s.as.Host.Port).
		Msg("Starting appservice listener")
	s.as.Start()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("appservice HTTP server terminated")
}

// listenAddress extracts the host and port the homeserver will push
// transactions to from the registration manifest's URL.
func listenAddress(regURL string) (string, uint16, error) {
	u, err := url.Parse(regURL)
	if err != nil {
		return "", 0, fmt.Errorf("invalid registration URL %q: %w", regURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, fmt.Errorf("registration URL %q must include a port: %w", regURL, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in registration URL %q: %w", regURL, err)
	}
	return host, uint16(port), nil
}

func (s *Service) userID(localpart string) id.UserID {
	return id.NewUserID(localpart, s.cfg.Matrix.HomeserverName)
}

// EnsureRegistered implements bridge.MatrixPort. The underlying intent
// treats an already-registered user as success.
func (s *Service) EnsureRegistered(ctx context.Context, localpart string) error {
	return s.as.Intent(s.userID(localpart)).EnsureRegistered(ctx)
}

// JoinRoomByAlias implements bridge.MatrixPort.
func (s *Service) JoinRoomByAlias(ctx context.Context, localpart, alias string) (string, error) {
	intent := s.as.Intent(s.userID(localpart))
	resp, err := intent.Client.JoinRoom(ctx, alias, &mautrix.ReqJoinRoom{
		Via: []string{s.cfg.Matrix.HomeserverName},
	})
	if err != nil {
		return "", err
	}
	return resp.RoomID.String(), nil
}

// SetRoomDisplayName implements bridge.MatrixPort by sending a member
// state event carrying the display name.
func (s *Service) SetRoomDisplayName(ctx context.Context, localpart, roomID, displayName string) error {
	intent := s.as.Intent(s.userID(localpart))
	content := &event.MemberEventContent{
		Membership:  event.MembershipJoin,
		Displayname: displayName,
	}
	_, err := intent.SendStateEvent(ctx, id.RoomID(roomID), event.StateMember, intent.UserID.String(), content)
	return err
}

// SendText implements bridge.MatrixPort.
func (s *Service) SendText(ctx context.Context, localpart, roomID, body string) error {
	_, err := s.as.Intent(s.userID(localpart)).SendText(ctx, id.RoomID(roomID), body)
	return err
}

// SendImage implements bridge.MatrixPort: upload the bytes to the content
// repository, then send an image message referencing them.
func (s *Service) SendImage(ctx context.Context, localpart, roomID, mime string, data []byte) error {
	intent := s.as.Intent(s.userID(localpart))
	upload, err := intent.UploadBytes(ctx, data, mime)
	if err != nil {
		return fmt.Errorf("failed to upload image to Matrix: %w", err)
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    "image",
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mime,
			Size:     len(data),
		},
	}
	_, err = intent.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	return err
}

// queryHandler answers the homeserver's existence queries for users and
// aliases in the bridge namespace. Anything matching the deterministic
// naming scheme exists by definition.
type queryHandler struct {
	homeserver string
}

var _ appservice.QueryHandler = (*queryHandler)(nil)

func (q *queryHandler) QueryAlias(alias string) bool {
	localpart, server, ok := splitAlias(alias)
	if !ok || server != q.homeserver {
		return false
	}
	_, ok = bridge.ParseAliasLocalpart(localpart)
	return ok
}

func (q *queryHandler) QueryUser(userID id.UserID) bool {
	localpart, server, err := userID.Parse()
	if err != nil || server != q.homeserver {
		return false
	}
	return bridge.IsVirtualLocalpart(localpart)
}

// splitAlias splits "#local:server" into its parts.
func splitAlias(alias string) (localpart, server string, ok bool) {
	rest, found := strings.CutPrefix(alias, "#")
	if !found {
		return "", "", false
	}
	localpart, server, found = strings.Cut(rest, ":")
	if !found || localpart == "" || server == "" {
		return "", "", false
	}
	return localpart, server, true
}
