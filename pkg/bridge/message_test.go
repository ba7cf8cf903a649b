// Copyright 2025-2026 spore.ink

package bridge

import (
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestNormalizeMatrixContent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content *event.MessageEventContent
		want    Segment
		wantOK  bool
	}{
		{
			name:    "text",
			content: &event.MessageEventContent{MsgType: event.MsgText, Body: "hello"},
			want:    Segment{Kind: SegmentText, Text: "hello"},
			wantOK:  true,
		},
		{
			name: "image",
			content: &event.MessageEventContent{
				MsgType: event.MsgImage,
				Body:    "cat.png",
				URL:     "mxc://example.com/abc123",
				Info:    &event.FileInfo{MimeType: "image/png"},
			},
			want:   Segment{Kind: SegmentImage, ImageMXC: "mxc://example.com/abc123", ImageMime: "image/png"},
			wantOK: true,
		},
		{
			name:    "image without info",
			content: &event.MessageEventContent{MsgType: event.MsgImage, URL: "mxc://example.com/abc123"},
			want:    Segment{Kind: SegmentImage, ImageMXC: "mxc://example.com/abc123"},
			wantOK:  true,
		},
		{
			name:    "notice ignored",
			content: &event.MessageEventContent{MsgType: event.MsgNotice, Body: "beep"},
		},
		{
			name:    "emote ignored",
			content: &event.MessageEventContent{MsgType: event.MsgEmote, Body: "waves"},
		},
		{
			name:    "video ignored",
			content: &event.MessageEventContent{MsgType: event.MsgVideo, URL: "mxc://example.com/v"},
		},
		{
			name: "nil content",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NormalizeMatrixContent(test.content)
			if ok != test.wantOK {
				t.Fatalf("ok = %v, want %v", ok, test.wantOK)
			}
			if !ok {
				return
			}
			if got.Kind != test.want.Kind || got.Text != test.want.Text ||
				got.ImageMXC != test.want.ImageMXC || got.ImageMime != test.want.ImageMime {
				t.Errorf("segment = %+v, want %+v", got, test.want)
			}
		})
	}
}
