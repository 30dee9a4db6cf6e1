package segment

import (
	"strings"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/block"
)

type spanBuilder struct {
	style block.Style
	text  []rune
}

// lineBuilder accumulates the unterminated tail line.
type lineBuilder struct {
	started    bool
	index      int
	spans      []spanBuilder
	chars      int
	receivedAt time.Time
	stream     block.StreamKind
	// overLines marks a line past the block's line limit. Its text is held
	// back until it is known not to be the prompt.
	overLines bool
}

func (lb *lineBuilder) start(index int, now time.Time, stream block.StreamKind) {
	lb.started = true
	lb.index = index
	lb.spans = lb.spans[:0]
	lb.chars = 0
	lb.receivedAt = now
	lb.stream = stream
	lb.overLines = false
}

func (lb *lineBuilder) reset() {
	lb.started = false
	lb.overLines = false
	lb.spans = lb.spans[:0]
	lb.chars = 0
}

func (lb *lineBuilder) append(r rune, st block.Style) {
	if n := len(lb.spans); n > 0 && lb.spans[n-1].style == st {
		lb.spans[n-1].text = append(lb.spans[n-1].text, r)
	} else {
		lb.spans = append(lb.spans, spanBuilder{style: st, text: []rune{r}})
	}
	lb.chars++
}

func (lb *lineBuilder) backspace() {
	for n := len(lb.spans); n > 0; n = len(lb.spans) {
		sp := &lb.spans[n-1]
		if len(sp.text) > 0 {
			sp.text = sp.text[:len(sp.text)-1]
			lb.chars--
			if len(sp.text) == 0 {
				lb.spans = lb.spans[:n-1]
			}
			return
		}
		lb.spans = lb.spans[:n-1]
	}
}

// clearText empties the line but keeps its index, for carriage-return overwrites.
func (lb *lineBuilder) clearText() {
	lb.spans = lb.spans[:0]
	lb.chars = 0
}

// keep truncates the line to its first n runes.
func (lb *lineBuilder) keep(n int) {
	if n >= lb.chars {
		return
	}
	if n <= 0 {
		lb.clearText()
		return
	}
	left := n
	for i := range lb.spans {
		if len(lb.spans[i].text) >= left {
			lb.spans[i].text = lb.spans[i].text[:left]
			lb.spans = lb.spans[:i+1]
			break
		}
		left -= len(lb.spans[i].text)
	}
	lb.chars = n
}

func (lb *lineBuilder) empty() bool {
	return lb.chars == 0
}

func (lb *lineBuilder) text() string {
	var sb strings.Builder
	for _, sp := range lb.spans {
		sb.WriteString(string(sp.text))
	}
	return sb.String()
}

// line snapshots the tail, keeping at most limit runes.
func (lb *lineBuilder) line(final bool, limit int) block.OutputLine {
	spans := make([]block.StyledSpan, 0, len(lb.spans))
	for _, sp := range lb.spans {
		if len(sp.text) == 0 {
			continue
		}
		if limit <= 0 {
			break
		}
		text := sp.text
		if len(text) > limit {
			text = text[:limit]
		}
		limit -= len(text)
		spans = append(spans, block.StyledSpan{Text: string(text), Style: sp.style})
	}
	return block.OutputLine{
		Index:      lb.index,
		Spans:      spans,
		ReceivedAt: lb.receivedAt,
		Stream:     lb.stream,
		Final:      final,
	}
}
