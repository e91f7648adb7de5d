// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is wrapped by every frame or event decoding failure.
	ErrMalformedFrame = errors.New("malformed gateway frame")
	// ErrHandshakeTimeout is returned by Connect when no ack arrives in time.
	ErrHandshakeTimeout = errors.New("timed out waiting for gateway handshake")
	// ErrShardClosed is returned when connecting a shard that was closed.
	ErrShardClosed = errors.New("shard is closed")
	// ErrAlreadyConnected is returned by Connect on a live shard.
	ErrAlreadyConnected = errors.New("shard is already connected")
)

// GatewayError is a transport or protocol failure on one shard.
type GatewayError struct {
	ShardID string
	Op      string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway shard %s: %s: %v", e.ShardID, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AsGatewayError returns the GatewayError in err's chain, if any.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
