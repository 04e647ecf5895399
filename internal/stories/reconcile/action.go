package reconcile

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	ActionNewKey    = "new_key"
	ActionExtendKey = "extend_key"
)

// ErrUnresolvableAction означает, что по метаданным платежа нельзя понять, что выдавать.
var ErrUnresolvableAction = errors.New("unresolvable provisioning action")

// Action is either NewKey or ExtendKey.
type Action interface {
	Name() string
	isAction()
}

type NewKey struct {
	Days int
}

type ExtendKey struct {
	Username string
	Days     int
}

func (NewKey) Name() string    { return ActionNewKey }
func (ExtendKey) Name() string { return ActionExtendKey }

func (NewKey) isAction()    {}
func (ExtendKey) isAction() {}

// DecodeAction reads action, days and username from payment metadata.
// A missing action with a username means extension.
func DecodeAction(metadata map[string]string) (Action, error) {
	action := strings.TrimSpace(metadata["action"])
	username := strings.TrimSpace(metadata["username"])

	if action == "" {
		if username == "" {
			return nil, errors.Wrap(ErrUnresolvableAction, "action is missing")
		}
		action = ActionExtendKey
	}

	days, err := strconv.Atoi(strings.TrimSpace(metadata["days"]))
	if err != nil || days <= 0 {
		return nil, errors.Wrapf(ErrUnresolvableAction, "invalid days %q", metadata["days"])
	}

	switch action {
	case ActionNewKey:
		return NewKey{Days: days}, nil
	case ActionExtendKey:
		if username == "" {
			return nil, errors.Wrap(ErrUnresolvableAction, "extend_key without username")
		}
		return ExtendKey{Username: username, Days: days}, nil
	default:
		return nil, errors.Wrapf(ErrUnresolvableAction, "unknown action %q", action)
	}
}
