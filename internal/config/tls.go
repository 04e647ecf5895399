package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WebhookConfig описывает публичный адрес бота для режима webhook.
// Сертификат и ключ можно передать путями к файлам или base64-содержимым.
type WebhookConfig struct {
	Host          string `env:"HOST"`
	Path          string `env:"PATH,default=/telegram/webhook"`
	SSLCert       string `env:"SSL_CERT"`
	SSLPriv       string `env:"SSL_PRIV"`
	SSLCertBase64 string `env:"SSL_CERT_BASE64"`
	SSLPrivBase64 string `env:"SSL_PRIV_BASE64"`
	CertsDir      string `env:"CERTS_DIR,default=./data/certs"`
}

func (w *WebhookConfig) Enabled() bool {
	return w.Host != ""
}

func (w *WebhookConfig) URL() string {
	return strings.TrimSuffix(w.Host, "/") + w.Path
}

func (w *WebhookConfig) TLSEnabled() bool {
	return w.SSLCert != "" && w.SSLPriv != ""
}

// PrepareCertFiles materializes base64 certificates into CertsDir and points SSLCert/SSLPriv at them.
func (w *WebhookConfig) PrepareCertFiles() error {
	if w.SSLCertBase64 == "" && w.SSLPrivBase64 == "" {
		return nil
	}
	if w.SSLCertBase64 == "" || w.SSLPrivBase64 == "" {
		return fmt.Errorf("both SSL cert and key are required")
	}

	if err := os.MkdirAll(w.CertsDir, 0755); err != nil {
		return fmt.Errorf("failed to create certs directory: %w", err)
	}

	certData, err := base64.StdEncoding.DecodeString(w.SSLCertBase64)
	if err != nil {
		return fmt.Errorf("failed to decode SSL cert: %w", err)
	}

	keyData, err := base64.StdEncoding.DecodeString(w.SSLPrivBase64)
	if err != nil {
		return fmt.Errorf("failed to decode SSL key: %w", err)
	}

	certPath := filepath.Join(w.CertsDir, "webhook.pem")
	if err := os.WriteFile(certPath, certData, 0644); err != nil {
		return fmt.Errorf("failed to write SSL cert: %w", err)
	}

	keyPath := filepath.Join(w.CertsDir, "webhook-key.pem")
	if err := os.WriteFile(keyPath, keyData, 0600); err != nil {
		return fmt.Errorf("failed to write SSL key: %w", err)
	}

	w.SSLCert = certPath
	w.SSLPriv = keyPath
	return nil
}
