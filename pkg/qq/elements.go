// Copyright 2025-2026 spore.ink

package qq

import (
	"fmt"
	"strings"

	"github.com/spore-ink/fairy-ring/pkg/bridge"
)

// NormalizeElements converts the ordered raw element sequence of one group
// event into bridge segments. Adjacent text-like elements coalesce into a
// single text segment; an image always starts a new segment; text after an
// image starts a new text segment. Faces fold into the text stream as
// their bracketed name. Unsupported elements are dropped without breaking
// the coalescing of their neighbors.
func NormalizeElements(elements []Element) []bridge.Segment {
	var segments []bridge.Segment
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			segments = append(segments, bridge.TextSegment(text.String()))
			text.Reset()
		}
	}
	for _, el := range elements {
		switch el.Kind {
		case ElementText:
			text.WriteString(el.Text)
		case ElementFace:
			if el.Text != "" {
				text.WriteString("[" + el.Text + "]")
			}
		case ElementMarketFace:
			if el.Text != "" {
				text.WriteString(fmt.Sprintf("[表情:%s]", el.Text))
			}
		case ElementImage:
			flush()
			segments = append(segments, bridge.ImageSegment(el.URL))
		default:
			// Unsupported kinds are zero-length connectors: dropped, but
			// they do not end the current text run.
		}
	}
	flush()
	return segments
}
