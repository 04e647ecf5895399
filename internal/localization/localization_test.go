package localization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Get(t *testing.T) {
	s, err := NewService("ru")
	require.NoError(t, err)

	tests := []struct {
		name   string
		lang   string
		key    string
		params map[string]interface{}
		want   string
	}{
		{name: "placeholder", lang: "ru", key: "payments.item", params: map[string]interface{}{"date": "01.05.2024", "amount": "150.00", "status": "succeeded"}, want: "• 01.05.2024 — 150.00 ₽ — succeeded"},
		{name: "english", lang: "en", key: "errors.unknown_command", want: "Unknown command. /help"},
		{name: "unknown language falls back", lang: "ky", key: "trial.already_used", want: "Пробный период уже использован."},
		{name: "empty language uses fallback", lang: "", key: "trial.already_used", want: "Пробный период уже использован."},
		{name: "missing key", lang: "en", key: "nope.missing", want: "nope.missing"},
		{name: "section is not a string", lang: "en", key: "payment", want: "payment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Get(tt.lang, tt.key, tt.params))
		})
	}
}

func TestService_BundlesHaveSameKeys(t *testing.T) {
	s, err := NewService("")
	require.NoError(t, err)

	var walk func(prefix string, m map[string]interface{}) []string
	walk = func(prefix string, m map[string]interface{}) []string {
		var keys []string
		for k, v := range m {
			if nested, ok := v.(map[string]interface{}); ok {
				keys = append(keys, walk(prefix+k+".", nested)...)
				continue
			}
			keys = append(keys, prefix+k)
		}
		return keys
	}

	assert.ElementsMatch(t, walk("", s.translations["ru"]), walk("", s.translations["en"]))
}

func TestNewService_UnsupportedLanguage(t *testing.T) {
	_, err := NewService("de")
	assert.Error(t, err)
}
