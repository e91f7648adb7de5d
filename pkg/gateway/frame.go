// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame codes observed on the gateway.
const (
	CodeHello     = 0
	CodePing      = 2
	CodePong      = 3
	CodeConnected = 40
	CodeEvent     = 42
)

// HeartbeatMessage is the only frame the client sends.
const HeartbeatMessage = "2"

var emptyObject = json.RawMessage(`{}`)

// Frame is one decoded gateway message.
type Frame struct {
	Code int
	Data json.RawMessage
}

// Session is the payload of a hello frame.
type Session struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// Decode splits raw into its numeric code and JSON body. A frame without
// a body decodes to an empty object. A body that is not valid JSON is an
// error wrapping ErrMalformedFrame.
func Decode(raw string) (Frame, error) {
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i == 0 {
		return Frame{}, fmt.Errorf("%w: missing code in %q", ErrMalformedFrame, truncate(raw))
	}
	code, err := strconv.Atoi(raw[:i])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad code: %w", ErrMalformedFrame, err)
	}

	body := raw[i:]
	if body == "" {
		return Frame{Code: code, Data: emptyObject}, nil
	}
	if !json.Valid([]byte(body)) {
		return Frame{}, fmt.Errorf("%w: code %d body is not JSON: %q", ErrMalformedFrame, code, truncate(body))
	}
	return Frame{Code: code, Data: json.RawMessage(body)}, nil
}

// DecodeEvent splits the body of a code 42 frame into the event name and
// its raw payload. A missing payload is returned as JSON null.
func DecodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return "", nil, fmt.Errorf("%w: event body is not an array: %w", ErrMalformedFrame, err)
	}
	if len(tuple) == 0 || len(tuple) > 2 {
		return "", nil, fmt.Errorf("%w: event array has %d elements", ErrMalformedFrame, len(tuple))
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: event name is not a string", ErrMalformedFrame)
	}
	if len(tuple) == 1 {
		return name, json.RawMessage("null"), nil
	}
	return name, bytes.Clone(tuple[1]), nil
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
