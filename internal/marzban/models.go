package marzban

import "time"

const (
	ProtocolVLESS  = "vless"
	ProtocolTrojan = "trojan"
)

const (
	InboundVLESSDefault  = "VLESS TCP REALITY"
	InboundTrojanDefault = "TROJAN TCP NOTLS"
)

const (
	usernameRandomLength = 8
	maxCreateAttempts    = 3
	listPageSize         = 100
)

// Key is a freshly created VPN credential.
type Key struct {
	Username  string
	Link      string
	ExpiresAt time.Time
}

// Extension describes a prolonged credential. PreviousExpiry is nil for keys without expiry.
type Extension struct {
	Username       string
	PreviousExpiry *time.Time
	ExpiresAt      time.Time
}

// Credential is a panel user owned by a Telegram user.
type Credential struct {
	Username   string
	TelegramID int64
	ExpiresAt  time.Time
}

type ProtocolConfig struct {
	Name     string
	Inbounds []string
	Flow     string
}

type Options struct {
	BaseURL  string
	Protocol string
	Inbound  string
	Flow     string
}
