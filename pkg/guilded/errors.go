// Copyright 2024-2026 Aiku AI

package guilded

import "errors"

var (
	ErrMissingToken     = errors.New("guilded: token is required")
	ErrMalformedPayload = errors.New("guilded: malformed event payload")
	ErrNotFound         = errors.New("guilded: not found")
	ErrClientClosed     = errors.New("guilded: client closed")
	ErrNotReady         = errors.New("guilded: client is not ready")
	ErrGatewayDisabled  = errors.New("guilded: gateway is disabled")
)
