package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               DBConfig                `env:",prefix=DB_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	YooKassa         YooKassaConfig          `env:",prefix=YOOKASSA_"`
	Marzban          MarzbanConfig           `env:",prefix=MARZBAN_"`
	Webhook          WebhookConfig           `env:",prefix=WEBHOOK_"`
	WebApp           WebAppConfig            `env:",prefix=WEBAPP_"`
	API              APIConfig               `env:",prefix=API_"`
	Referral         ReferralConfig          `env:",prefix=REFERRAL_"`
	TrialDays        int                     `env:"TRIAL_DAYS,default=3"`
	Tariffs          Tariffs                 `env:"TARIFFS,default=30:150,90:400,180:750"`
	Messages         MessagesConfig          `env:",prefix=MESSAGES_"`
	Workers          WorkersConfig           `env:",prefix=WORKERS_"`
}

type TelegramConfig struct {
	BotToken       string        `env:"BOT_TOKEN,required"`
	Timeout        time.Duration `env:"TIMEOUT,default=30s"`
	AdminIDs       []int64       `env:"ADMIN_IDS"`
	SupportContact string        `env:"SUPPORT_CONTACT,default=@support"`
	Language       string        `env:"LANGUAGE,default=ru"`
}

type YooKassaConfig struct {
	AccountID    string        `env:"ACCOUNT_ID,required"`
	SecretKey    string        `env:"SECRET_KEY,required"`
	ReturnURL    string        `env:"RETURN_URL,default=https://t.me"`
	AllowedIPs   []string      `env:"ALLOWED_IPS,default=185.71.76.0/27,185.71.77.0/27,77.75.153.0/25,77.75.156.11,77.75.156.35,77.75.154.128/25,2a02:5180::/32"`
	VerifyStatus bool          `env:"VERIFY_STATUS,default=true"`
	Timeout      time.Duration `env:"TIMEOUT,default=15s"`
}

type MarzbanConfig struct {
	URL      string        `env:"URL,required"`
	Username string        `env:"USERNAME,required"`
	Password string        `env:"PASSWORD,required"`
	Timeout  time.Duration `env:"TIMEOUT,default=15s"`
	TokenTTL time.Duration `env:"TOKEN_TTL,default=1h"`
	Inbound  string        `env:"INBOUND,default=VLESS TCP REALITY"`
	Flow     string        `env:"FLOW,default=xtls-rprx-vision"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// WebAppConfig is the bind address of the public API server.
type WebAppConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=60s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=2m"`
}

func (a WebAppConfig) ADDR() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

type APIConfig struct {
	SecretToken       string        `env:"SECRET_TOKEN"`
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS,default=false"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=20"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`
}

type ReferralConfig struct {
	BonusDays     int           `env:"BONUS_DAYS,default=7"`
	BonusValidity time.Duration `env:"BONUS_VALIDITY,default=2160h"`
}

type MessagesConfig struct {
	PollSchedule string `env:"POLL_SCHEDULE,default=@every 1m"`
}

// WorkersConfig управляет фоновыми проверками платежей и панели.
type WorkersConfig struct {
	PaymentCheckSchedule string        `env:"PAYMENT_CHECK_SCHEDULE,default=@every 1m"`
	PaymentCheckWindow   time.Duration `env:"PAYMENT_CHECK_WINDOW,default=24h"`
	PaymentCheckDelay    time.Duration `env:"PAYMENT_CHECK_DELAY,default=2m"`
	PanelHealthInterval  time.Duration `env:"PANEL_HEALTH_INTERVAL,default=30s"`
}

type DBConfig struct {
	Driver       string `env:"DRIVER,default=sqlite3"`
	Path         string `env:"PATH,default=./data/vpnkeys.db"`
	Host         string `env:"HOST,default=127.0.0.1"`
	Port         uint16 `env:"PORT,default=3306"`
	User         string `env:"USER"`
	Password     string `env:"PASSWORD"`
	Name         string `env:"NAME,default=vpnkeys"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string `env:"MAX_LIFETIME,default=5m"`
}

// DSN возвращает строку подключения для выбранного драйвера.
func (c DBConfig) DSN() string {
	if c.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
			c.User, c.Password, c.Host, c.Port, c.Name)
	}
	return c.Path
}

// Tariff is a purchasable key duration with its price in RUB.
type Tariff struct {
	Days  int
	Price decimal.Decimal
}

// Tariffs decodes "days:price,days:price".
type Tariffs []Tariff

func (t *Tariffs) EnvDecode(val string) error {
	var result Tariffs
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		days, price, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("tariff %q: expected days:price", item)
		}
		d, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil || d <= 0 {
			return fmt.Errorf("tariff %q: invalid days", item)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("tariff %q: invalid price", item)
		}
		result = append(result, Tariff{Days: d, Price: p})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Days < result[j].Days })
	*t = result
	return nil
}

// Find returns the tariff for the given number of days.
func (t Tariffs) Find(days int) (Tariff, bool) {
	for _, tariff := range t {
		if tariff.Days == days {
			return tariff, true
		}
	}
	return Tariff{}, false
}
