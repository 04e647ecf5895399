package marzban

import (
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func encodeUserCreate(e *jx.Encoder, u UserCreate) {
	e.ObjStart()
	e.FieldStart("username")
	e.Str(u.Username)

	e.FieldStart("proxies")
	e.ObjStart()
	for _, name := range sortedKeys(u.Proxies) {
		e.FieldStart(name)
		e.ObjStart()
		if flow := u.Proxies[name].Flow; flow != "" {
			e.FieldStart("flow")
			e.Str(flow)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	e.FieldStart("inbounds")
	e.ObjStart()
	for _, name := range sortedKeys(u.Inbounds) {
		e.FieldStart(name)
		e.ArrStart()
		for _, tag := range u.Inbounds[name] {
			e.Str(tag)
		}
		e.ArrEnd()
	}
	e.ObjEnd()

	e.FieldStart("expire")
	encodeExpire(e, u.Expire)

	e.FieldStart("data_limit")
	e.Int64(u.DataLimit)

	if u.Status != "" {
		e.FieldStart("status")
		e.Str(u.Status)
	}
	e.ObjEnd()
}

func encodeUserModify(e *jx.Encoder, u UserModify) {
	e.ObjStart()
	if u.Expire != nil {
		e.FieldStart("expire")
		encodeExpire(e, u.Expire)
	}
	if u.Status != "" {
		e.FieldStart("status")
		e.Str(u.Status)
	}
	e.ObjEnd()
}

func encodeExpire(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Int64(t.Unix())
}

func encodeTelegramLink(e *jx.Encoder, telegramID int64) {
	e.ObjStart()
	e.FieldStart("telegram_user_id")
	e.Int64(telegramID)
	e.ObjEnd()
}

func encodeTelegramUser(e *jx.Encoder, u TelegramUser) {
	e.ObjStart()
	e.FieldStart("user_id")
	e.Int64(u.UserID)
	if u.Username != "" {
		e.FieldStart("username")
		e.Str(u.Username)
	}
	if u.FirstName != "" {
		e.FieldStart("first_name")
		e.Str(u.FirstName)
	}
	if u.LastName != "" {
		e.FieldStart("last_name")
		e.Str(u.LastName)
	}
	e.FieldStart("test_period")
	e.Bool(u.TestPeriod)
	e.ObjEnd()
}

func decodeToken(d *jx.Decoder) (string, error) {
	var token string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "access_token":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "access_token")
			}
			token = v
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func decodeUser(d *jx.Decoder) (User, error) {
	var u User
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "username":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "username")
			}
			u.Username = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "status")
			}
			u.Status = v
		case "expire":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "expire")
			}
			if v > 0 {
				t := time.Unix(v, 0).UTC()
				u.Expire = &t
			}
		case "links":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				link, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "links")
				}
				u.Links = append(u.Links, link)
				return nil
			})
		case "subscription_url":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "subscription_url")
			}
			u.SubscriptionURL = v
		default:
			return d.Skip()
		}
		return nil
	})
	return u, err
}

func decodeUsersPage(d *jx.Decoder) (UsersPage, error) {
	var page UsersPage
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				if err != nil {
					return err
				}
				page.Users = append(page.Users, u)
				return nil
			})
		case "total":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "total")
			}
			page.Total = v
			return nil
		default:
			return d.Skip()
		}
	})
	return page, err
}

func decodeTelegramUser(d *jx.Decoder) (TelegramUser, error) {
	var u TelegramUser
	str := func(d *jx.Decoder, dst *string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "user_id":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "user_id")
			}
			u.UserID = v
			return nil
		case "username":
			return str(d, &u.Username)
		case "first_name":
			return str(d, &u.FirstName)
		case "last_name":
			return str(d, &u.LastName)
		case "test_period":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Bool()
			if err != nil {
				return errors.Wrap(err, "test_period")
			}
			u.TestPeriod = v
			return nil
		default:
			return d.Skip()
		}
	})
	return u, err
}

// decodeDetail extracts FastAPI's {"detail": "..."}; non-string details are ignored.
func decodeDetail(data []byte) string {
	var detail string
	d := jx.DecodeBytes(data)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) == "detail" && d.Next() == jx.String {
			v, err := d.Str()
			if err != nil {
				return err
			}
			detail = v
			return nil
		}
		return d.Skip()
	})
	return detail
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
