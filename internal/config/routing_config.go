package config

import "time"

const (
	// Routing
	MaxClaimAttempts = 3

	// Transport
	DefaultSendTimeout     = 10 * time.Second
	DefaultPollTimeout     = 60
	DefaultChatQueueSize   = 16
	DefaultChatIdleTimeout = 10 * time.Minute
	PhoneNumberPrefix      = "+"

	// Event stream
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSMaxMessageSize = 512
	WSSendBuffer     = 64

	// Admin API
	AdminTokenTTL    = 12 * time.Hour
	AdminTokenIssuer = "supportdesk-admin"
)
