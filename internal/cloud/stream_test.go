// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func contentFrame(s string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", s)
}

func reasoningFrame(s string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"reasoning_content":%q}}]}`+"\n\n", s)
}

const doneFrame = "data: [DONE]\n\n"

// sseServer writes each element of frames as a separate flushed chunk.
func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range frames {
			io.WriteString(w, f)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest(endpoint string) Request {
	return Request{
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Model:    "deepseek-chat",
		Messages: []ChatMessage{{Role: "user", Content: "Hello"}},
	}
}

// collect drains a stream and returns the full content and reasoning.
func collect(s *Stream) (content, reasoning string, err error) {
	var b strings.Builder
	for s.Next() {
		snap := s.Current()
		b.WriteString(snap.ContentDelta)
		if snap.HasReasoning {
			reasoning = snap.Reasoning
		}
	}
	return b.String(), reasoning, s.Err()
}

func openTest(t *testing.T, c *Client, endpoint string) *Stream {
	t.Helper()
	s, err := c.Open(context.Background(), testRequest(endpoint))
	require.NoError(t, err)
	return s
}

// =============================================================================
// REQUEST
// =============================================================================

func TestOpen_RequestShape(t *testing.T) {
	var (
		gotPath, gotAuth, gotCT, gotAccept string
		gotBody                            string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, doneFrame)
	}))
	defer srv.Close()

	s := openTest(t, NewClient(), srv.URL+"/")
	_, _, err := collect(s)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t,
		`{"model":"deepseek-chat","messages":[{"role":"user","content":"Hello"}],"stream":true,`+
			`"temperature":0.7,"max_tokens":2000,"top_p":1,"frequency_penalty":0,"presence_penalty":0}`,
		gotBody)
}

func TestOpen_CustomSampling(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, doneFrame)
	}))
	defer srv.Close()

	c := NewClient(WithSampling(Sampling{Temperature: 0.2, MaxTokens: 64, TopP: 0.9}))
	_, _, err := collect(openTest(t, c, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"temperature":0.2,"max_tokens":64,"top_p":0.9`)
}

func TestOpen_ValidatesBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient()
	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"no endpoint", func(r *Request) { r.Endpoint = "" }, ErrNotConfigured},
		{"no key", func(r *Request) { r.APIKey = " " }, ErrNotConfigured},
		{"no model", func(r *Request) { r.Model = "" }, ErrNotConfigured},
		{"no messages", func(r *Request) { r.Messages = nil }, ErrEmptyConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(srv.URL)
			tt.mutate(&req)
			s, err := c.Open(context.Background(), req)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, hits.Load())
}

// =============================================================================
// TERMINAL OUTCOMES
// =============================================================================

func TestStream_Completes(t *testing.T) {
	srv := sseServer(t, ": keep-alive\n\n", contentFrame("Hi"), contentFrame(" there"), doneFrame)

	s := openTest(t, NewClient(), srv.URL)
	content, reasoning, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", content)
	assert.Empty(t, reasoning)

	st := s.Stats()
	assert.Equal(t, 2, st.Frames)
	assert.Greater(t, st.TotalTime, time.Duration(0))

	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed after completion")
	}
}

func TestStream_ReasoningThenContent(t *testing.T) {
	srv := sseServer(t, reasoningFrame("A"), reasoningFrame("B"), contentFrame("X"), doneFrame)
	s := openTest(t, NewClient(), srv.URL)

	var reasonings []string
	var content string
	for s.Next() {
		snap := s.Current()
		if snap.HasReasoning {
			reasonings = append(reasonings, snap.Reasoning)
		}
		content += snap.ContentDelta
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"A", "AB"}, reasonings)
	assert.Equal(t, "X", content)
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	srv := sseServer(t, contentFrame("one"), "data: {not json\n\n", contentFrame("two"), doneFrame)
	s := openTest(t, NewClient(), srv.URL)

	content, _, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", content)
	assert.Equal(t, 1, s.Stats().Discarded)
}

func TestStream_NothingAfterDone(t *testing.T) {
	srv := sseServer(t, contentFrame("a")+doneFrame+contentFrame("b"), contentFrame("c"))
	content, _, err := collect(openTest(t, NewClient(), srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "a", content)
}

func TestStream_EOFBeforeDoneFails(t *testing.T) {
	srv := sseServer(t, contentFrame("Hi"))
	content, _, err := collect(openTest(t, NewClient(), srv.URL))

	assert.Equal(t, "Hi", content)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "Hi", streamErr.Partial)
}

func TestStream_ConnectionDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, contentFrame("Hi"))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	content, _, err := collect(openTest(t, NewClient(), srv.URL))
	assert.Equal(t, "Hi", content)
	var streamErr *StreamError
	assert.ErrorAs(t, err, &streamErr)
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Authentication Fails","type":"authentication_error","code":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	s := openTest(t, NewClient(), srv.URL)
	assert.False(t, s.Next())

	err := s.Err()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Authentication Fails", apiErr.Message)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestStream_HTTPErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := collect(openTest(t, NewClient(), srv.URL))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream overloaded", apiErr.Message)
}

func TestStream_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewClient().Open(context.Background(), testRequest(url))
	require.NoError(t, err, "network errors are reported through the stream")
	assert.False(t, s.Next())
	var streamErr *StreamError
	assert.ErrorAs(t, s.Err(), &streamErr)
}

func TestStream_LineTooLong(t *testing.T) {
	srv := sseServer(t, "data: "+strings.Repeat("a", MaxLineSize+1))
	_, _, err := collect(openTest(t, NewClient(), srv.URL))
	assert.ErrorIs(t, err, ErrLineTooLong)
}

// =============================================================================
// CANCELLATION
// =============================================================================

// trackingBody is a response body fed by a pipe that records Close.
type trackingBody struct {
	*io.PipeReader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return b.PipeReader.Close()
}

type pipeTransport struct {
	body *trackingBody
}

func (p *pipeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       p.body,
		Request:    req,
	}, nil
}

func newPipeClient(opts ...Option) (*Client, *trackingBody, *io.PipeWriter) {
	pr, pw := io.Pipe()
	body := &trackingBody{PipeReader: pr}
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: &pipeTransport{body: body}})}, opts...)
	return NewClient(opts...), body, pw
}

func TestStream_CancelStopsEmissionAndClosesBody(t *testing.T) {
	c, body, pw := newPipeClient()
	s := openTest(t, c, "http://fake")

	go io.WriteString(pw, contentFrame("first")+contentFrame("second"))

	require.True(t, s.Next())
	assert.Equal(t, "first", s.Current().ContentDelta)
	require.Eventually(t, func() bool { return s.Stats().Frames == 2 }, 2*time.Second, 5*time.Millisecond,
		"second snapshot should be buffered before cancel")

	s.Cancel()
	assert.True(t, body.closed.Load(), "body must be closed by Cancel")

	go func() {
		for i := 0; i < 10; i++ {
			if _, err := io.WriteString(pw, contentFrame("late")); err != nil {
				return
			}
		}
	}()

	assert.False(t, s.Next(), "no snapshot may be delivered after Cancel")
	assert.ErrorIs(t, s.Err(), ErrStreamCanceled)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine did not exit after Cancel")
	}
	s.Cancel()
}

func TestStream_ContextCancel(t *testing.T) {
	c, body, pw := newPipeClient()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Open(ctx, testRequest("http://fake"))
	require.NoError(t, err)

	go io.WriteString(pw, contentFrame("x"))
	require.True(t, s.Next())

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after context cancel")
	}
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), ErrStreamCanceled)
	assert.True(t, body.closed.Load())
}

func TestStream_DeadlineIsFailure(t *testing.T) {
	c, body, pw := newPipeClient()
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s, err := c.Open(ctx, testRequest("http://fake"))
	require.NoError(t, err)

	go io.WriteString(pw, contentFrame("Hi"))
	require.True(t, s.Next())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop at the deadline")
	}
	assert.False(t, s.Next())

	err = s.Err()
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrStreamCanceled)
	assert.Equal(t, "Hi", streamErr.Partial)
	assert.True(t, body.closed.Load())
}

func TestStream_DeadlineBeforeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s, err := NewClient().Open(ctx, testRequest(srv.URL))
	require.NoError(t, err)

	_, _, err = collect(s)
	assert.ErrorAs(t, err, new(*StreamError))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_IdleTimeout(t *testing.T) {
	c, body, pw := newPipeClient(WithIdleTimeout(50 * time.Millisecond))
	defer pw.Close()
	s := openTest(t, c, "http://fake")

	go io.WriteString(pw, contentFrame("Hi"))
	require.True(t, s.Next())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream was not ended by the idle timeout")
	}
	assert.False(t, s.Next())

	var streamErr *StreamError
	require.ErrorAs(t, s.Err(), &streamErr)
	assert.ErrorIs(t, s.Err(), ErrIdleTimeout)
	assert.Equal(t, "Hi", streamErr.Partial)
	assert.True(t, body.closed.Load())
}

func TestStream_IdleTimeoutResetsOnData(t *testing.T) {
	c, _, pw := newPipeClient(WithIdleTimeout(200 * time.Millisecond))
	s := openTest(t, c, "http://fake")

	go func() {
		defer pw.Close()
		for i := 0; i < 8; i++ {
			io.WriteString(pw, contentFrame("."))
			time.Sleep(50 * time.Millisecond)
		}
		io.WriteString(pw, doneFrame)
	}()

	content, _, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, "........", content)
}

// opaqueCtx hides its parent's cancel machinery, so the context package
// watches it from a goroutine.
type opaqueCtx struct{ context.Context }

func (opaqueCtx) Value(any) any { return nil }

func TestOpen_BadEndpointReleasesContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx := opaqueCtx{parent}

	before := runtime.NumGoroutine()
	req := testRequest("http://bad host")
	_, err := NewClient().Open(ctx, req)
	require.Error(t, err)

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 2*time.Second, 10*time.Millisecond,
		"a failed Open must not leave a watcher on the caller's context")
}

func TestStream_CancelAfterCompletionKeepsOutcome(t *testing.T) {
	srv := sseServer(t, contentFrame("done"), doneFrame)
	s := openTest(t, NewClient(), srv.URL)

	content, _, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, "done", content)

	s.Cancel()
	assert.NoError(t, s.Err())
}

// =============================================================================
// HELPERS UNDER TEST
// =============================================================================

func TestCompletionsURL(t *testing.T) {
	assert.Equal(t, "https://api.deepseek.com/v1/chat/completions", CompletionsURL("https://api.deepseek.com"))
	assert.Equal(t, "https://api.deepseek.com/v1/chat/completions", CompletionsURL("https://api.deepseek.com/"))
}

func TestKeyFingerprint(t *testing.T) {
	assert.Equal(t, "none", KeyFingerprint(""))
	fp := KeyFingerprint("sk-secret")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, KeyFingerprint("sk-secret"))
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		err := error(&APIError{Status: tt.status})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d does not match %v", tt.status, tt.want)
		}
	}
	if errors.Is(&APIError{Status: 500}, ErrAuthFailed) {
		t.Error("500 should not match ErrAuthFailed")
	}
}
