package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTariffsEnvDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{name: "sorted by days", input: "90:400,30:150", want: []int{30, 90}},
		{name: "spaces and empty items", input: " 30:150 , ,180:750", want: []int{30, 180}},
		{name: "missing price", input: "30", wantErr: true},
		{name: "negative price", input: "30:-1", wantErr: true},
		{name: "zero days", input: "0:100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tariffs Tariffs
			err := tariffs.EnvDecode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			days := make([]int, 0, len(tariffs))
			for _, tariff := range tariffs {
				days = append(days, tariff.Days)
			}
			assert.Equal(t, tt.want, days)
		})
	}
}

func TestTariffsFind(t *testing.T) {
	var tariffs Tariffs
	require.NoError(t, tariffs.EnvDecode("30:150,90:400"))

	tariff, ok := tariffs.Find(90)
	require.True(t, ok)
	assert.Equal(t, "400", tariff.Price.String())

	_, ok = tariffs.Find(7)
	assert.False(t, ok)
}

func TestDBConfigDSN(t *testing.T) {
	sqlite := DBConfig{Driver: "sqlite3", Path: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db", sqlite.DSN())

	mysql := DBConfig{Driver: "mysql", User: "u", Password: "p", Host: "db", Port: 3306, Name: "vpn"}
	assert.Equal(t, "u:p@tcp(db:3306)/vpn?parseTime=true&loc=UTC&charset=utf8mb4", mysql.DSN())
}

func TestWebhookPrepareCertFiles(t *testing.T) {
	dir := t.TempDir()
	w := WebhookConfig{
		Host:          "https://bot.example.com/",
		Path:          "/telegram/webhook",
		SSLCertBase64: base64.StdEncoding.EncodeToString([]byte("CERT")),
		SSLPrivBase64: base64.StdEncoding.EncodeToString([]byte("KEY")),
		CertsDir:      dir,
	}

	require.NoError(t, w.PrepareCertFiles())
	assert.True(t, w.TLSEnabled())
	assert.Equal(t, "https://bot.example.com/telegram/webhook", w.URL())

	data, err := os.ReadFile(filepath.Join(dir, "webhook.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CERT", string(data))
}
