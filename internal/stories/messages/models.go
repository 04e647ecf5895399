package messages

import (
	"strconv"
	"strings"
	"time"
)

type TaskType string

const (
	TaskBroadcast      TaskType = "broadcast"
	TaskExpiration7Day TaskType = "expiration_7days"
	TaskExpiration3Day TaskType = "expiration_3days"
	TaskExpiration1Day TaskType = "expiration_1day"
)

func (t TaskType) Valid() bool {
	if t == TaskBroadcast {
		return true
	}
	_, ok := t.ExpirationDays()
	return ok
}

// ExpirationDays парсит N из expiration_Ndays / expiration_1day.
func (t TaskType) ExpirationDays() (int, bool) {
	rest, ok := strings.CutPrefix(string(t), "expiration_")
	if !ok {
		return 0, false
	}
	rest = strings.TrimSuffix(strings.TrimSuffix(rest, "days"), "day")
	days, err := strconv.Atoi(rest)
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

type Task struct {
	ID             int64
	Type           TaskType
	CronExpression string
	MessageText    string
	IsActive       bool
	CreatedAt      time.Time
	LastRun        *time.Time
	NextRun        *time.Time
}

type TaskCriteria struct {
	ID         *int64
	ActiveOnly bool
	// DueAt оставляет задачи с next_run <= DueAt
	DueAt *time.Time
}

type TaskUpdate struct {
	IsActive *bool
	LastRun  *time.Time
	NextRun  *time.Time
}

type CreateTaskRequest struct {
	Type           TaskType
	CronExpression string
	MessageText    string
	IsActive       bool
}

type BroadcastRequest struct {
	Text     string
	AllUsers bool
	UserIDs  []int64
}

type BroadcastReport struct {
	Recipients int
	Sent       int
	Failed     int
}
