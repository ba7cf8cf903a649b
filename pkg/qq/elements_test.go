// Copyright 2025-2026 spore.ink

package qq

import (
	"testing"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
)

func TestNormalizeElements(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		elements []Element
		want     []bridge.Segment
	}{
		{
			name:     "single text",
			elements: []Element{{Kind: ElementText, Text: "hello"}},
			want:     []bridge.Segment{bridge.TextSegment("hello")},
		},
		{
			name: "adjacent text coalesces",
			elements: []Element{
				{Kind: ElementText, Text: "a"},
				{Kind: ElementText, Text: "b"},
			},
			want: []bridge.Segment{bridge.TextSegment("ab")},
		},
		{
			name: "image breaks text run",
			elements: []Element{
				{Kind: ElementText, Text: "a"},
				{Kind: ElementText, Text: "b"},
				{Kind: ElementImage, URL: "https://cdn.example/x"},
				{Kind: ElementText, Text: "c"},
			},
			want: []bridge.Segment{
				bridge.TextSegment("ab"),
				bridge.ImageSegment("https://cdn.example/x"),
				bridge.TextSegment("c"),
			},
		},
		{
			name: "face folds into text",
			elements: []Element{
				{Kind: ElementText, Text: "hi"},
				{Kind: ElementFace, Text: "smile"},
				{Kind: ElementText, Text: "!"},
			},
			want: []bridge.Segment{bridge.TextSegment("hi[smile]!")},
		},
		{
			name: "market face folds into text",
			elements: []Element{
				{Kind: ElementMarketFace, Text: "滑稽"},
			},
			want: []bridge.Segment{bridge.TextSegment("[表情:滑稽]")},
		},
		{
			name: "unsupported element does not break the run",
			elements: []Element{
				{Kind: ElementText, Text: "a"},
				{Kind: "at_mention", Text: "@bob"},
				{Kind: ElementText, Text: "b"},
			},
			want: []bridge.Segment{bridge.TextSegment("ab")},
		},
		{
			name: "all unsupported yields nothing",
			elements: []Element{
				{Kind: "at_mention"},
				{Kind: "dice"},
			},
			want: nil,
		},
		{
			name:     "empty input",
			elements: nil,
			want:     nil,
		},
		{
			name: "leading image",
			elements: []Element{
				{Kind: ElementImage, URL: "https://cdn.example/x"},
				{Kind: ElementText, Text: "caption"},
			},
			want: []bridge.Segment{
				bridge.ImageSegment("https://cdn.example/x"),
				bridge.TextSegment("caption"),
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeElements(test.elements)
			if len(got) != len(test.want) {
				t.Fatalf("got %d segments %+v, want %d", len(got), got, len(test.want))
			}
			for i := range got {
				if got[i].Kind != test.want[i].Kind || got[i].Text != test.want[i].Text || got[i].ImageURL != test.want[i].ImageURL {
					t.Errorf("segment %d = %+v, want %+v", i, got[i], test.want[i])
				}
			}
		})
	}
}
