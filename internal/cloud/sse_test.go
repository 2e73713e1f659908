// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"reflect"
	"strings"
	"testing"
)

func TestFrameParser_SplitAcrossChunks(t *testing.T) {
	p := NewFrameParser()
	var lines []string
	for _, chunk := range []string{"data: a\nda", "ta: b\n"} {
		lines = append(lines, p.Lines(chunk)...)
	}
	want := []string{"data: a", "data: b"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

// TestFrameParser_EverySplitPoint checks that the emitted lines do not
// depend on where the input is cut, for every one- and two-cut split.
func TestFrameParser_EverySplitPoint(t *testing.T) {
	input := "data: {\"x\":1}\r\n: keep-alive\n\ndata: 你好\nevent: ping\ndata: tail-without-newline"
	want := strings.Split(input, "\n")
	want = want[:len(want)-1]

	collect := func(chunks ...string) []string {
		p := NewFrameParser()
		var out []string
		for _, c := range chunks {
			out = append(out, p.Lines(c)...)
		}
		return out
	}

	for i := 0; i <= len(input); i++ {
		if got := collect(input[:i], input[i:]); !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %q, want %q", i, got, want)
		}
		for j := i; j <= len(input); j++ {
			if got := collect(input[:i], input[i:j], input[j:]); !reflect.DeepEqual(got, want) {
				t.Fatalf("split at %d,%d: got %q, want %q", i, j, got, want)
			}
		}
	}
}

func TestFrameParser_ByteAtATime(t *testing.T) {
	input := "data: one\n\ndata: two\n\ndata: [DONE]\n\n"
	p := NewFrameParser()
	var frames []Frame
	for i := 0; i < len(input); i++ {
		frames = append(frames, p.Feed(input[i:i+1])...)
	}
	want := []Frame{{Data: "one"}, {Data: "two"}, {Done: true}}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("frames = %+v, want %+v", frames, want)
	}
}

func TestFrameParser_FiltersNonDataLines(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed(": keep-alive\nevent: message\nid: 7\n\ndata:nospace\ndata: kept\r\n")
	want := []Frame{{Data: "kept"}}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("frames = %+v, want %+v", frames, want)
	}
}

func TestFrameParser_DoneLatches(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed("data: a\ndata: [DONE]\ndata: b\n")
	want := []Frame{{Data: "a"}, {Done: true}}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("frames = %+v, want %+v", frames, want)
	}
	if !p.Done() {
		t.Error("Done() = false after [DONE]")
	}
	if got := p.Feed("data: c\ndata: [DONE]\n"); got != nil {
		t.Errorf("Feed after [DONE] = %+v, want nil", got)
	}
}

func TestFrameParser_ResidualHeld(t *testing.T) {
	p := NewFrameParser()
	if frames := p.Feed("data: partial"); len(frames) != 0 {
		t.Fatalf("incomplete line produced frames: %+v", frames)
	}
	if p.ResidualLen() != len("data: partial") {
		t.Errorf("ResidualLen() = %d", p.ResidualLen())
	}
	frames := p.Feed(" line\n")
	if len(frames) != 1 || frames[0].Data != "partial line" {
		t.Errorf("frames = %+v", frames)
	}
}
