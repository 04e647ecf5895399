package marzban

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
	UserStatusExpired  = "expired"
)

type ProxySettings struct {
	Flow string
}

type UserCreate struct {
	Username  string
	Proxies   map[string]ProxySettings
	Inbounds  map[string][]string
	Expire    *time.Time
	DataLimit int64
	Status    string
}

type UserModify struct {
	Expire *time.Time
	Status string
}

// User is the panel's view of a credential. Expire is nil for keys without expiry.
type User struct {
	Username        string
	Status          string
	Expire          *time.Time
	Links           []string
	SubscriptionURL string
}

type ListUsersParams struct {
	Offset int
	Limit  int
	Status string
}

type UsersPage struct {
	Users []User
	Total int
}

type TelegramUser struct {
	UserID     int64
	Username   string
	FirstName  string
	LastName   string
	TestPeriod bool
}
