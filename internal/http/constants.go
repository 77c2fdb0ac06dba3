package http

import "time"

// Headers
const (
	SessionHeader = "X-QDB-Session"
)

// Generic HTTP / JSON strings
const (
	HTTPErrorInvalidJSONText  = "invalid JSON"
	HTTPErrorForbiddenText    = "forbidden"
	HTTPErrorForbiddenHost    = "forbidden host"
	HTTPErrorForbiddenOrigin  = "forbidden origin"
	HTTPErrorUnauthorizedText = "unauthorized"
	HTTPErrorTooManyRequests  = "too many requests"
)

// Common JSON keys
const (
	JSONKeyOK        = "ok"
	JSONKeyError     = "error"
	JSONKeyCancelled = "cancelled"
)

const JSONRPCVersion = "2.0"

// Websocket channel tuning
const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxMessageSize = 1 << 20
)

// Limiter bookkeeping
const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = 5 * time.Minute
)

const corsMaxAge = 10 * time.Minute

// Confirmation UI event stream
const (
	streamEventSurface = "surface"
	streamEventPending = "pending"
	streamEventPing    = "ping"
	streamPingInterval = 25 * time.Second
)
