package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		want     Action
		wantErr  bool
	}{
		{
			name:     "new key",
			metadata: map[string]string{"action": "new_key", "days": "30"},
			want:     NewKey{Days: 30},
		},
		{
			name:     "extend key",
			metadata: map[string]string{"action": "extend_key", "days": "90", "username": "abcd1234_42"},
			want:     ExtendKey{Username: "abcd1234_42", Days: 90},
		},
		{
			name:     "missing action with username extends",
			metadata: map[string]string{"days": "30", "username": "abcd1234_42"},
			want:     ExtendKey{Username: "abcd1234_42", Days: 30},
		},
		{
			name:     "missing action without username",
			metadata: map[string]string{"days": "30"},
			wantErr:  true,
		},
		{
			name:     "unknown action",
			metadata: map[string]string{"action": "gift", "days": "30"},
			wantErr:  true,
		},
		{
			name:     "extend without username",
			metadata: map[string]string{"action": "extend_key", "days": "30"},
			wantErr:  true,
		},
		{
			name:     "bad days",
			metadata: map[string]string{"action": "new_key", "days": "many"},
			wantErr:  true,
		},
		{
			name:     "zero days",
			metadata: map[string]string{"action": "new_key", "days": "0"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAction(tt.metadata)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnresolvableAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
