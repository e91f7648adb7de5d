// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateway implements the real-time side of the Guilded client: a
// framed text protocol spoken over a WebSocket, one connection per [Shard].
//
// # Frames
//
// Every text message is an ASCII decimal code optionally followed by a JSON
// body. [Decode] splits the two. Code 0 carries the session hello, code 40
// acknowledges the handshake and code 42 carries an application event as a
// two element array of name and payload. The only frame the client ever
// sends is the heartbeat "2".
//
// # Shards
//
// A [Shard] owns one socket at a time. It waits for the handshake ack before
// [Shard.Connect] returns, sends a heartbeat every pingInterval announced by
// the most recent hello and, unless closed by the operator, reconnects when
// the server drops the connection. Lifecycle changes and decoded events are
// reported to an [EventSink]; the shard itself knows nothing about event
// semantics.
//
// [Manager] keeps shards by id ("main" or a team id) and closes them in bulk.
package gateway
