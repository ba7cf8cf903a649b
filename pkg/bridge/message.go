// Copyright 2025-2026 spore.ink

package bridge

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Direction tags a BridgeMessage with its source network.
type Direction int

const (
	FromQQ Direction = iota
	FromMatrix
)

// SegmentKind discriminates the Segment union.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentImage
)

// Segment is one ordered, typed unit of a relayed message. Text segments
// carry the body directly. Image segments carry either an external URL
// reference (QQ-origin, fetched at delivery time), a Matrix content URI
// (Matrix-origin, downloaded by the gateway adapter), or raw bytes.
type Segment struct {
	Kind SegmentKind

	Text string

	ImageURL  string
	ImageMXC  id.ContentURIString
	ImageData []byte
	ImageMime string
}

// TextSegment builds a text segment.
func TextSegment(body string) Segment {
	return Segment{Kind: SegmentText, Text: body}
}

// ImageSegment builds an image segment referencing an external URL.
func ImageSegment(url string) Segment {
	return Segment{Kind: SegmentImage, ImageURL: url}
}

// BridgeMessage is the normalized unit carrying one or more ordered
// segments from a source-network event. It is built once per inbound event
// and not mutated afterwards.
type BridgeMessage struct {
	Direction      Direction
	GroupID        int64
	CounterpartyID int64
	DisplayName    string
	Segments       []Segment
}

// NormalizeMatrixContent converts a single Matrix message event's content
// into one segment. Only plain text and images are bridged; any other
// message type yields ok=false and the event is ignored.
func NormalizeMatrixContent(content *event.MessageEventContent) (Segment, bool) {
	if content == nil {
		return Segment{}, false
	}
	switch content.MsgType {
	case event.MsgText:
		return TextSegment(content.Body), true
	case event.MsgImage:
		seg := Segment{Kind: SegmentImage, ImageMXC: content.URL}
		if content.Info != nil {
			seg.ImageMime = content.Info.MimeType
		}
		return seg, true
	default:
		return Segment{}, false
	}
}
