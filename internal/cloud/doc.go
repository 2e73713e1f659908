// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the streaming chat-completion client.
//
// The wire protocol is OpenAI-style server-sent events with one extension:
// a reasoning_content side channel carrying the model's chain of thought
// alongside the answer text.
//
// # Key Types
//
//   - FrameParser: splits arbitrary network chunks into "data: " frames
//   - DeltaDecoder: turns frame payloads into Snapshots, accumulating reasoning
//   - Client: builds and sends the request, opens a Stream
//   - Stream: iterator over Snapshots with a single terminal outcome
//
// # Usage
//
//	stream, err := client.Open(ctx, cloud.Request{
//	    Endpoint: settings.APIEndpoint,
//	    APIKey:   settings.APIKey,
//	    Model:    settings.ChatModel,
//	    Messages: []cloud.ChatMessage{{Role: "user", Content: "Hello"}},
//	})
//	if err != nil {
//	    return err
//	}
//	for stream.Next() {
//	    snap := stream.Current()
//	    fmt.Print(snap.ContentDelta)
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
//
// # Security
//
// API keys are never logged; only a SHA-256 fingerprint is.
package cloud
