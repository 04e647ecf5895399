package referral

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/apperr"
	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/users"
)

var testNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

type fakeStorage struct {
	users     map[int64]*users.User
	bonuses   map[int64]*Bonus
	nextID    int64
	failBonus bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{users: map[int64]*users.User{}, bonuses: map[int64]*Bonus{}}
}

func (f *fakeStorage) addUser(id int64, code string) {
	f.users[id] = &users.User{ID: id, TelegramID: id, ReferralCode: &code}
}

func (f *fakeStorage) GetUser(_ context.Context, criteria users.GetCriteria) (*users.User, error) {
	for _, u := range f.users {
		if criteria.TelegramID != nil && u.TelegramID != *criteria.TelegramID {
			continue
		}
		if criteria.ReferralCode != nil && (u.ReferralCode == nil || *u.ReferralCode != *criteria.ReferralCode) {
			continue
		}
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStorage) SetReferrer(_ context.Context, telegramID, referrerID int64) (bool, error) {
	u := f.users[telegramID]
	if u == nil || u.ReferrerID != nil {
		return false, nil
	}
	u.ReferrerID = &referrerID
	return true, nil
}

func (f *fakeStorage) CountReferrals(_ context.Context, referrerID int64) (int, error) {
	n := 0
	for _, u := range f.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) CreateBonus(_ context.Context, bonus Bonus) (*Bonus, error) {
	if f.failBonus {
		return nil, errors.New("disk full")
	}
	f.nextID++
	bonus.ID = f.nextID
	f.bonuses[bonus.ID] = &bonus
	cp := bonus
	return &cp, nil
}

func (f *fakeStorage) GetBonus(_ context.Context, criteria BonusCriteria) (*Bonus, error) {
	b, ok := f.bonuses[*criteria.ID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStorage) ListBonuses(_ context.Context, criteria BonusCriteria) ([]*Bonus, error) {
	var result []*Bonus
	for id := int64(1); id <= f.nextID; id++ {
		b, ok := f.bonuses[id]
		if !ok || b.TelegramID != *criteria.TelegramID {
			continue
		}
		if criteria.ActiveAt != nil && !b.Active(*criteria.ActiveAt) {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}
	return result, nil
}

func (f *fakeStorage) ClaimBonus(_ context.Context, id int64, appliedAt time.Time) (bool, error) {
	b := f.bonuses[id]
	if b == nil || b.IsApplied {
		return false, nil
	}
	b.IsApplied = true
	b.AppliedAt = &appliedAt
	return true, nil
}

func (f *fakeStorage) ReleaseBonus(_ context.Context, id int64) error {
	if b := f.bonuses[id]; b != nil {
		b.IsApplied = false
		b.AppliedAt = nil
	}
	return nil
}

type fakeCodes struct {
	storage *fakeStorage
}

func (c *fakeCodes) EnsureReferralCode(_ context.Context, telegramID int64) (string, error) {
	u := c.storage.users[telegramID]
	if u == nil {
		return "", apperr.NotFoundErr("User not found")
	}
	return *u.ReferralCode, nil
}

type fakeKeys struct {
	err      error
	extended map[string]int
}

func (k *fakeKeys) ExtendKey(_ context.Context, username string, days int) (*marzban.Extension, error) {
	if k.err != nil {
		return nil, k.err
	}
	k.extended[username] += days
	return &marzban.Extension{Username: username, ExpiresAt: testNow.AddDate(0, 0, days)}, nil
}

type fakeNotifier struct {
	sent map[int64]string
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	if n.err != nil {
		return n.err
	}
	n.sent[chatID] = text
	return nil
}

type keyLocalizer struct{}

func (keyLocalizer) Get(_, key string, _ map[string]interface{}) string { return key }

type fixture struct {
	svc      *Service
	storage  *fakeStorage
	keys     *fakeKeys
	notifier *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		storage:  newFakeStorage(),
		keys:     &fakeKeys{extended: map[string]int{}},
		notifier: &fakeNotifier{sent: map[int64]string{}},
	}
	f.storage.addUser(100, "REFCODE1")
	f.storage.addUser(200, "REFCODE2")

	f.svc = NewService(
		f.storage,
		&fakeCodes{storage: f.storage},
		f.keys,
		f.notifier,
		keyLocalizer{},
		"ru",
		Config{BonusDays: 7, BonusValidity: 90 * 24 * time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("links user and credits referrer", func(t *testing.T) {
		f := newFixture()

		user, err := f.svc.Apply(ctx, 200, " REFCODE1 ")
		require.NoError(t, err)
		require.NotNil(t, user.ReferrerID)
		assert.Equal(t, int64(100), *user.ReferrerID)

		require.Len(t, f.storage.bonuses, 1)
		bonus := f.storage.bonuses[1]
		assert.Equal(t, int64(100), bonus.TelegramID)
		assert.Equal(t, 7, bonus.Days)
		assert.Equal(t, BonusTypeDays, bonus.BonusType)
		require.NotNil(t, bonus.ExpiresAt)
		assert.Equal(t, testNow.Add(90*24*time.Hour), *bonus.ExpiresAt)

		assert.Equal(t, "referral.bonus_earned", f.notifier.sent[100])
	})

	tests := []struct {
		name   string
		userID int64
		code   string
		prep   func(f *fixture)
		kind   apperr.Kind
		msg    string
	}{
		{name: "empty code", userID: 200, code: " ", kind: apperr.Invalid},
		{name: "unknown user", userID: 300, code: "REFCODE1", kind: apperr.NotFound, msg: "User not found"},
		{name: "unknown code", userID: 200, code: "NOPE0000", kind: apperr.NotFound, msg: "Referral code not found"},
		{name: "own code", userID: 100, code: "REFCODE1", kind: apperr.Invalid, msg: "Cannot use own referral code"},
		{
			name:   "already referred",
			userID: 200,
			code:   "REFCODE1",
			prep: func(f *fixture) {
				ref := int64(100)
				f.storage.users[200].ReferrerID = &ref
			},
			kind: apperr.Invalid,
			msg:  "User already has a referrer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.prep != nil {
				tt.prep(f)
			}

			_, err := f.svc.Apply(ctx, tt.userID, tt.code)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, apperr.PublicMessage(err))
			}
			assert.Empty(t, f.storage.bonuses)
			assert.Empty(t, f.notifier.sent)
		})
	}

	t.Run("bonus failures do not undo the referral", func(t *testing.T) {
		f := newFixture()
		f.storage.failBonus = true

		user, err := f.svc.Apply(ctx, 200, "REFCODE1")
		require.NoError(t, err)
		assert.NotNil(t, user.ReferrerID)
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("notifier failure is ignored", func(t *testing.T) {
		f := newFixture()
		f.notifier.err = errors.New("blocked")

		_, err := f.svc.Apply(ctx, 200, "REFCODE1")
		require.NoError(t, err)
		assert.Len(t, f.storage.bonuses, 1)
	})
}

func TestApplyBonus(t *testing.T) {
	ctx := context.Background()

	seed := func(f *fixture, expiresAt *time.Time) int64 {
		b, err := f.storage.CreateBonus(ctx, Bonus{TelegramID: 100, Days: 7, BonusType: BonusTypeDays, CreatedAt: testNow, ExpiresAt: expiresAt})
		require.NoError(t, err)
		return b.ID
	}

	t.Run("extends owner's key once", func(t *testing.T) {
		f := newFixture()
		id := seed(f, nil)

		bonus, ext, err := f.svc.ApplyBonus(ctx, id, "abcd1234_100")
		require.NoError(t, err)
		assert.True(t, bonus.IsApplied)
		assert.Equal(t, testNow.AddDate(0, 0, 7), ext.ExpiresAt)
		assert.Equal(t, 7, f.keys.extended["abcd1234_100"])

		_, _, err = f.svc.ApplyBonus(ctx, id, "abcd1234_100")
		assert.True(t, apperr.IsKind(err, apperr.Invalid))
		assert.Equal(t, 7, f.keys.extended["abcd1234_100"])
	})

	t.Run("expired bonus", func(t *testing.T) {
		f := newFixture()
		expired := testNow.Add(-time.Hour)
		id := seed(f, &expired)

		_, _, err := f.svc.ApplyBonus(ctx, id, "abcd1234_100")
		require.Error(t, err)
		assert.Equal(t, "Bonus expired", apperr.PublicMessage(err))
	})

	t.Run("someone else's key", func(t *testing.T) {
		f := newFixture()
		id := seed(f, nil)

		_, _, err := f.svc.ApplyBonus(ctx, id, "abcd1234_200")
		assert.True(t, apperr.IsKind(err, apperr.Invalid))
		assert.False(t, f.storage.bonuses[id].IsApplied)
	})

	t.Run("missing bonus", func(t *testing.T) {
		f := newFixture()

		_, _, err := f.svc.ApplyBonus(ctx, 42, "abcd1234_100")
		assert.True(t, apperr.IsKind(err, apperr.NotFound))
	})

	t.Run("panel failures release the bonus", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			kind apperr.Kind
		}{
			{name: "key not found", err: marzbanAPI.ErrNotFound, kind: apperr.NotFound},
			{name: "panel down", err: errors.New("connection refused"), kind: apperr.Upstream},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture()
				id := seed(f, nil)
				f.keys.err = tt.err

				_, _, err := f.svc.ApplyBonus(ctx, id, "abcd1234_100")
				assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
				assert.False(t, f.storage.bonuses[id].IsApplied)
			})
		}
	})
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.Apply(ctx, 200, "REFCODE1")
	require.NoError(t, err)
	expired := testNow.Add(-time.Hour)
	_, err = f.storage.CreateBonus(ctx, Bonus{TelegramID: 100, Days: 3, ExpiresAt: &expired})
	require.NoError(t, err)

	info, err := f.svc.Info(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "REFCODE1", info.Code)
	assert.Equal(t, 1, info.Referrals)
	assert.Equal(t, 7, info.BonusDays)
	require.Len(t, info.Bonuses, 1)
	assert.Equal(t, 7, info.Bonuses[0].Days)

	_, err = f.svc.Info(ctx, 999)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}
