// Copyright 2025-2026 spore.ink

package qq

import (
	"context"
)

// ElementKind identifies one raw element of a QQ group message as
// delivered by the protocol agent.
type ElementKind string

const (
	ElementText       ElementKind = "text"
	ElementFace       ElementKind = "face"
	ElementMarketFace ElementKind = "market_face"
	ElementImage      ElementKind = "image"
	// Anything else (at-mentions, stickers without text fallback, rich
	// cards, dice...) is unsupported and dropped during normalization.
)

// Element is one raw unit of a QQ group message.
type Element struct {
	Kind ElementKind `json:"kind"`
	// Text holds the content for text elements and the face name for
	// face/market-face elements.
	Text string `json:"text,omitempty"`
	// URL is the CDN location of an image element.
	URL string `json:"url,omitempty"`
}

// GroupMessage is one inbound QQ group event.
type GroupMessage struct {
	GroupID  int64     `json:"group_id"`
	SenderID int64     `json:"user_id"`
	Elements []Element `json:"elements"`
}

// GroupInfo is display metadata for one QQ group.
type GroupInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// QRCodeState enumerates the login challenge states reported by the
// session runtime.
type QRCodeState int

const (
	// QRStateOther covers intermediate states (waiting for scan, waiting
	// for confirmation) that the login loop polls through without action.
	QRStateOther QRCodeState = iota
	QRStateImageFetch
	QRStateTimeout
	QRStateConfirmed
	QRStateCanceled
)

// QRCodeStatus is one observation of the login challenge.
type QRCodeStatus struct {
	State QRCodeState

	// ImageFetch: the challenge image and the opaque signature used to
	// poll its status.
	ImageData []byte
	Signature []byte

	// Confirmed: the artifacts exchanged for a session.
	TmpPassword []byte
	TmpNoPicSig []byte
	TGTQR       []byte
}

// LoginResult is the outcome of exchanging confirmation artifacts.
type LoginResult struct {
	Success            bool
	DeviceLockRequired bool
	Message            string
}

// LoginAPI is the slice of the session runtime driven by the QR login
// state machine.
type LoginAPI interface {
	FetchQRCode(ctx context.Context) (*QRCodeStatus, error)
	QueryQRCodeStatus(ctx context.Context, signature []byte) (*QRCodeStatus, error)
	QRCodeLogin(ctx context.Context, tmpPassword, tmpNoPicSig, tgtQR []byte) (*LoginResult, error)
	DeviceLockLogin(ctx context.Context) (*LoginResult, error)
}

// GroupAPI is the slice of the session runtime used by the membership
// reconciler.
type GroupAPI interface {
	FetchGroupList(ctx context.Context) ([]GroupInfo, error)
	FetchGroupInfos(ctx context.Context, groupIDs []int64) ([]GroupInfo, error)
}

// API is the full session runtime surface the bridge needs from the QQ
// side. The concrete implementation (pkg/qq/wire) talks to an external
// protocol agent; everything in this package is written against this
// interface.
type API interface {
	LoginAPI
	GroupAPI

	// Connect establishes the wire-level session. The transport is not
	// serviced until Run is started.
	Connect(ctx context.Context) error
	// Run services transport I/O until the connection dies or ctx is
	// canceled. It must be running before the first login request is
	// sent.
	Run(ctx context.Context) error
	// Events is the inbound group message stream.
	Events() <-chan *GroupMessage

	FetchGroupMemberName(ctx context.Context, groupID, userID int64) (string, error)
	UploadGroupImage(ctx context.Context, groupID int64, data []byte) (handle string, err error)
	SendGroupText(ctx context.Context, groupID int64, text string) error
	SendGroupImage(ctx context.Context, groupID int64, handle string) error
}
