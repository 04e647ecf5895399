package messages

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/marzban"
)

var testNow = time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)

type fakeStorage struct {
	tasks  map[int64]*Task
	nextID int64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{tasks: map[int64]*Task{}}
}

func (f *fakeStorage) CreateTask(_ context.Context, task Task) (*Task, error) {
	f.nextID++
	task.ID = f.nextID
	f.tasks[task.ID] = &task
	cp := task
	return &cp, nil
}

func (f *fakeStorage) GetTask(_ context.Context, criteria TaskCriteria) (*Task, error) {
	t, ok := f.tasks[*criteria.ID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStorage) ListTasks(_ context.Context, criteria TaskCriteria) ([]*Task, error) {
	var result []*Task
	for _, t := range f.tasks {
		if criteria.ActiveOnly && !t.IsActive {
			continue
		}
		if criteria.DueAt != nil && (t.NextRun == nil || t.NextRun.After(*criteria.DueAt)) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *fakeStorage) UpdateTask(_ context.Context, id int64, params TaskUpdate) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	if params.IsActive != nil {
		t.IsActive = *params.IsActive
	}
	if params.LastRun != nil {
		t.LastRun = params.LastRun
	}
	if params.NextRun != nil {
		t.NextRun = params.NextRun
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStorage) DeleteTask(_ context.Context, id int64) (bool, error) {
	if _, ok := f.tasks[id]; !ok {
		return false, nil
	}
	delete(f.tasks, id)
	return true, nil
}

type fakeRecipients struct {
	ids []int64
}

func (f *fakeRecipients) ListTelegramIDs(context.Context) ([]int64, error) {
	return f.ids, nil
}

type fakeExpiring struct {
	credentials map[int][]marzban.Credential
}

func (f *fakeExpiring) ListExpiring(_ context.Context, days int) ([]marzban.Credential, error) {
	return f.credentials[days], nil
}

type delivery struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	sent    []delivery
	failFor map[int64]bool
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	if f.failFor[chatID] {
		return errors.New("bot was blocked by the user")
	}
	f.sent = append(f.sent, delivery{chatID: chatID, text: text})
	return nil
}

type fixture struct {
	svc        *Service
	storage    *fakeStorage
	recipients *fakeRecipients
	expiring   *fakeExpiring
	notifier   *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		storage:    newFakeStorage(),
		recipients: &fakeRecipients{ids: []int64{1, 2}},
		expiring:   &fakeExpiring{credentials: map[int][]marzban.Credential{}},
		notifier:   &fakeNotifier{failFor: map[int64]bool{}},
	}
	f.svc = NewService(f.storage, f.recipients, f.expiring, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = func() time.Time { return testNow }
	return f
}

func TestTaskTypeExpirationDays(t *testing.T) {
	tests := []struct {
		taskType TaskType
		days     int
		ok       bool
	}{
		{TaskExpiration7Day, 7, true},
		{TaskExpiration3Day, 3, true},
		{TaskExpiration1Day, 1, true},
		{"expiration_14days", 14, true},
		{"expiration_0days", 0, false},
		{"expiration_days", 0, false},
		{TaskBroadcast, 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			days, ok := tt.taskType.ExpirationDays()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.days, days)
		})
	}
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects bad input", func(t *testing.T) {
		f := newFixture()

		cases := []CreateTaskRequest{
			{Type: "weekly", CronExpression: "0 10 * * *", MessageText: "hi"},
			{Type: TaskBroadcast, CronExpression: "0 10 * * *", MessageText: "  "},
			{Type: TaskBroadcast, CronExpression: "every day", MessageText: "hi"},
		}
		for _, req := range cases {
			_, err := f.svc.CreateTask(ctx, req)
			assert.True(t, apperr.IsKind(err, apperr.Invalid), "request %+v", req)
		}
		assert.Empty(t, f.storage.tasks)
	})

	t.Run("active task is scheduled", func(t *testing.T) {
		f := newFixture()

		task, err := f.svc.CreateTask(ctx, CreateTaskRequest{
			Type:           TaskExpiration3Day,
			CronExpression: "0 10 * * *",
			MessageText:    "Key {{name}} expires {{expire_date}}",
			IsActive:       true,
		})
		require.NoError(t, err)
		require.NotNil(t, task.NextRun)
		assert.Equal(t, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), *task.NextRun)
	})

	t.Run("inactive task has no next run", func(t *testing.T) {
		f := newFixture()

		task, err := f.svc.CreateTask(ctx, CreateTaskRequest{
			Type:           TaskBroadcast,
			CronExpression: "0 10 * * *",
			MessageText:    "hi",
		})
		require.NoError(t, err)
		assert.Nil(t, task.NextRun)
	})
}

func TestSetActiveAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.SetActive(ctx, 99, true)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	task, err := f.svc.CreateTask(ctx, CreateTaskRequest{Type: TaskBroadcast, CronExpression: "30 * * * *", MessageText: "hi"})
	require.NoError(t, err)

	updated, err := f.svc.SetActive(ctx, task.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC), *updated.NextRun)

	require.NoError(t, f.svc.DeleteTask(ctx, task.ID))
	err = f.svc.DeleteTask(ctx, task.ID)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("requires text", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Broadcast(ctx, BroadcastRequest{Text: " ", AllUsers: true})
		assert.True(t, apperr.IsKind(err, apperr.Invalid))
	})

	t.Run("requires recipients", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Broadcast(ctx, BroadcastRequest{Text: "hi"})
		require.Error(t, err)
		assert.Equal(t, "No recipients", apperr.PublicMessage(err))
	})

	t.Run("explicit ids are deduplicated", func(t *testing.T) {
		f := newFixture()
		f.notifier.failFor[3] = true

		report, err := f.svc.Broadcast(ctx, BroadcastRequest{Text: "hi", UserIDs: []int64{5, 3, 5}})
		require.NoError(t, err)
		assert.Equal(t, BroadcastReport{Recipients: 2, Sent: 1, Failed: 1}, *report)
	})

	t.Run("all users", func(t *testing.T) {
		f := newFixture()

		report, err := f.svc.Broadcast(ctx, BroadcastRequest{Text: "hi", AllUsers: true, UserIDs: []int64{9}})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Sent)
		assert.Equal(t, []delivery{{1, "hi"}, {2, "hi"}}, f.notifier.sent)
	})
}

func TestRunDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)
	expiry := time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

	f.storage.tasks = map[int64]*Task{
		1: {ID: 1, Type: TaskBroadcast, CronExpression: "0 * * * *", MessageText: "news", IsActive: true, NextRun: &past},
		2: {ID: 2, Type: TaskExpiration3Day, CronExpression: "0 10 * * *", MessageText: "{{name}} until {{expire_date}} ({{days}})", IsActive: true, NextRun: &past},
		3: {ID: 3, Type: TaskBroadcast, CronExpression: "0 * * * *", MessageText: "later", IsActive: true, NextRun: &future},
		4: {ID: 4, Type: TaskBroadcast, CronExpression: "0 * * * *", MessageText: "off", IsActive: false, NextRun: &past},
		5: {ID: 5, Type: TaskBroadcast, CronExpression: "broken", MessageText: "once", IsActive: true, NextRun: &past},
	}
	f.expiring.credentials[3] = []marzban.Credential{
		{Username: "aaaa1111_10", TelegramID: 10, ExpiresAt: expiry},
		{Username: "bbbb2222_10", TelegramID: 10, ExpiresAt: expiry},
		{Username: "cccc3333_11", TelegramID: 11, ExpiresAt: expiry},
	}

	ran, err := f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ran)

	assert.Equal(t, time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), *f.storage.tasks[1].NextRun)
	assert.Equal(t, testNow, *f.storage.tasks[1].LastRun)
	assert.Equal(t, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), *f.storage.tasks[2].NextRun)
	assert.Nil(t, f.storage.tasks[3].LastRun)
	assert.Nil(t, f.storage.tasks[4].LastRun)
	assert.False(t, f.storage.tasks[5].IsActive)

	var expirations []delivery
	broadcasts := 0
	for _, d := range f.notifier.sent {
		if d.chatID >= 10 {
			expirations = append(expirations, d)
		} else {
			broadcasts++
		}
	}
	assert.Equal(t, 4, broadcasts)
	assert.Equal(t, []delivery{
		{10, "bbbb2222 until 12.03.2024 (3)"},
		{11, "cccc3333 until 12.03.2024 (3)"},
	}, expirations)

	ran, err = f.svc.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran)
}

func TestRenderExpiration(t *testing.T) {
	c := marzban.Credential{
		Username:   "k3y9abcd_555",
		TelegramID: 555,
		ExpiresAt:  time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC),
	}

	got := RenderExpiration("{{username}}/{{name}}/{{expire_date}}/{{days}}", c, 7)
	assert.Equal(t, "k3y9abcd_555/k3y9abcd/31.12.2024/7", got)
}
