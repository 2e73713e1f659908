// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// readBufferSize is the size of each body read.
const readBufferSize = 32 * 1024

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	FirstTokenTime time.Duration
	TotalTime      time.Duration
	Frames         int // decoded snapshots
	Discarded      int // frames dropped by the decoder
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is one in-flight completion. A background goroutine reads the body
// and hands Snapshots to the consumer, which iterates with Next/Current and
// reads the outcome from Err once Next returns false:
//
//   - nil: [DONE] was received
//   - *StreamError: transport, HTTP status, read failure, EOF before [DONE],
//     idle timeout, or the Open context passing its deadline
//   - ErrStreamCanceled: Cancel was called or the Open context was canceled
//
// Next and Current must be called from a single goroutine. Cancel may be
// called from any goroutine, any number of times.
type Stream struct {
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopAfter func() bool
	idle      time.Duration
	logger    *slog.Logger

	snapshots chan Snapshot
	done      chan struct{}
	stop      chan struct{}
	err       error // set by the reader before done is closed
	partial   strings.Builder

	deliverMu sync.Mutex
	canceled  bool
	cur       Snapshot

	bodyMu     sync.Mutex
	body       io.Closer
	bodyClosed bool

	statsMu sync.Mutex
	stats   StreamStats
	start   time.Time
}

func newStream(parent context.Context, idle time.Duration, logger *slog.Logger) *Stream {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Stream{
		parent:    parent,
		ctx:       ctx,
		cancel:    cancel,
		idle:      idle,
		logger:    logger,
		snapshots: make(chan Snapshot, 64),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		start:     time.Now(),
	}
	s.stopAfter = context.AfterFunc(parent, s.parentDone)
	return s
}

// parentDone reacts to the Open context ending. Cancellation of the context
// is a cancel; a passed deadline aborts the stream as a failure.
func (s *Stream) parentDone() {
	if errors.Is(s.parent.Err(), context.Canceled) {
		s.Cancel()
		return
	}
	s.abort(context.Cause(s.parent))
}

// abort ends the request with cause without marking the stream canceled.
// Snapshots already buffered stay deliverable and Err reports the failure.
func (s *Stream) abort(cause error) {
	s.cancel(cause)
	s.closeBody()
}

// Next waits for the next snapshot. It returns false once the stream has
// ended or been canceled; no snapshot is delivered after Cancel returns.
func (s *Stream) Next() bool {
	if s.isCanceled() {
		return false
	}

	var (
		snap Snapshot
		ok   bool
	)
	select {
	case snap, ok = <-s.snapshots:
	case <-s.stop:
		return false
	}
	if !ok {
		return false
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.canceled {
		return false
	}
	s.cur = snap
	return true
}

// Current returns the snapshot produced by the last successful Next.
func (s *Stream) Current() Snapshot {
	return s.cur
}

// Err returns the terminal outcome. It is nil while the stream is running
// and after a clean [DONE].
func (s *Stream) Err() error {
	if s.isCanceled() {
		return ErrStreamCanceled
	}
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancel aborts the request, closes the response body and stops delivery.
// Canceling a stream that already ended with nothing left to deliver is a
// no-op, so its outcome stays as it was.
func (s *Stream) Cancel() {
	s.deliverMu.Lock()
	if s.canceled {
		s.deliverMu.Unlock()
		return
	}
	select {
	case <-s.done:
		if len(s.snapshots) == 0 {
			s.deliverMu.Unlock()
			return
		}
	default:
	}
	s.canceled = true
	close(s.stop)
	s.deliverMu.Unlock()

	s.cancel(ErrStreamCanceled)
	s.closeBody()
}

// Done is closed when the reader goroutine has exited. Snapshots may still
// be buffered for Next at that point.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns a copy of the current statistics.
func (s *Stream) Stats() StreamStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	if st.TotalTime == 0 {
		st.TotalTime = time.Since(s.start)
	}
	return st
}

func (s *Stream) isCanceled() bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	return s.canceled
}

// =============================================================================
// READER GOROUTINE
// =============================================================================

func (s *Stream) run(hc *http.Client, req *http.Request) {
	defer s.finish()

	resp, err := hc.Do(req)
	if err != nil {
		s.err = s.wrap(fmt.Errorf("request failed: %w", err))
		return
	}
	if !s.attachBody(resp.Body) {
		s.err = s.wrap(context.Cause(s.ctx))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		s.err = s.wrap(parseAPIError(resp.StatusCode, body))
		return
	}

	s.err = s.consume(resp.Body)
}

// consume reads the body until [DONE], an error, or cancellation.
func (s *Stream) consume(body io.Reader) error {
	parser := NewFrameParser()
	decoder := NewDeltaDecoder()
	buf := make([]byte, readBufferSize)

	if s.idle > 0 {
		timer := time.AfterFunc(s.idle, func() { s.abort(ErrIdleTimeout) })
		defer timer.Stop()
		body = &idleReader{r: body, timer: timer, idle: s.idle}
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(string(buf[:n])) {
				if frame.Done {
					return nil
				}
				snap, ok := decoder.Decode(frame.Data)
				if !ok {
					s.record(func(st *StreamStats) { st.Discarded++ })
					s.logger.Debug("discarded frame", "bytes", len(frame.Data))
					continue
				}
				s.record(func(st *StreamStats) {
					if st.Frames == 0 {
						st.FirstTokenTime = time.Since(s.start)
					}
					st.Frames++
				})
				s.partial.WriteString(snap.ContentDelta)

				select {
				case s.snapshots <- snap:
				case <-s.stop:
					return ErrStreamCanceled
				}
			}
			if parser.ResidualLen() > MaxLineSize {
				return s.wrap(ErrLineTooLong)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return s.wrap(io.ErrUnexpectedEOF)
			}
			return s.wrap(fmt.Errorf("read error: %w", readErr))
		}
	}
}

// wrap turns a failure into a StreamError, or into ErrStreamCanceled when
// the failure was caused by Cancel or by cancellation of the Open context.
// A deadline or idle timeout stays a failure and is joined into the error.
func (s *Stream) wrap(err error) error {
	if s.isCanceled() || errors.Is(s.parent.Err(), context.Canceled) {
		return ErrStreamCanceled
	}
	if s.ctx.Err() != nil {
		if cause := context.Cause(s.ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
	}
	return &StreamError{Partial: s.partial.String(), Err: err}
}

// idleReader pushes the idle deadline forward on every read that returns
// data.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
	}
	return n, err
}

func (s *Stream) record(fn func(*StreamStats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// attachBody registers the body for Cancel. It reports false, closing the
// body, when Cancel already ran.
func (s *Stream) attachBody(body io.ReadCloser) bool {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.bodyClosed {
		body.Close()
		return false
	}
	s.body = body
	return true
}

func (s *Stream) closeBody() {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if s.bodyClosed {
		return
	}
	s.bodyClosed = true
	if s.body != nil {
		s.body.Close()
	}
}

func (s *Stream) finish() {
	s.closeBody()
	s.record(func(st *StreamStats) { st.TotalTime = time.Since(s.start) })

	close(s.done)
	close(s.snapshots)
	s.stopAfter()
	s.cancel(nil)

	st := s.Stats()
	s.logger.Debug("stream finished",
		"frames", st.Frames,
		"discarded", st.Discarded,
		"first_token", st.FirstTokenTime,
		"total", st.TotalTime,
		"error", s.err,
	)
}
