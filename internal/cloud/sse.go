// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import "strings"

// =============================================================================
// SSE FRAMING
// =============================================================================

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Frame is one complete "data: " line. Done marks the end-of-stream sentinel.
type Frame struct {
	Data string
	Done bool
}

// FrameParser reassembles SSE lines from arbitrarily split chunks. A line
// is only emitted once its terminating newline has arrived; the unfinished
// tail is kept as residual for the next chunk.
//
// The zero value is ready to use. A FrameParser is not safe for concurrent use.
type FrameParser struct {
	residual string
	done     bool
}

// NewFrameParser returns an empty parser.
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Lines appends chunk to the residual and returns every complete line,
// without its newline and without any filtering.
func (p *FrameParser) Lines(chunk string) []string {
	buf := p.residual + chunk
	parts := strings.Split(buf, "\n")
	p.residual = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Feed consumes a chunk and returns the data frames it completes. Lines
// without the "data: " prefix (comments, event:, id:, blank separators)
// are dropped. After the [DONE] frame the parser ignores all further input.
func (p *FrameParser) Feed(chunk string) []Frame {
	if p.done {
		return nil
	}

	var frames []Frame
	for _, line := range p.Lines(chunk) {
		line = strings.TrimSuffix(line, "\r")
		data, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		if data == doneSentinel {
			frames = append(frames, Frame{Done: true})
			p.done = true
			p.residual = ""
			break
		}
		frames = append(frames, Frame{Data: data})
	}
	return frames
}

// Done reports whether [DONE] has been seen.
func (p *FrameParser) Done() bool {
	return p.done
}

// ResidualLen is the size of the buffered incomplete line.
func (p *FrameParser) ResidualLen() int {
	return len(p.residual)
}
