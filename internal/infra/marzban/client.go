package marzban

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/ogen-go/ogen/ogenerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "vpnkeys-bot/internal/infra/marzban"
	contentTypeJSON     = "application/json"
	contentTypeForm     = "application/x-www-form-urlencoded"
	maxBodySize         = 1 << 20
)

var (
	ErrNotFound     = errors.New("marzban: not found")
	ErrConflict     = errors.New("marzban: already exists")
	ErrUnauthorized = errors.New("marzban: unauthorized")
)

// APIError is a non-2xx panel response.
type APIError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("marzban %s: status %d: %s", e.Operation, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("marzban %s: status %d", e.Operation, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

type config struct {
	httpClient *http.Client
	timeout    time.Duration
	tokenTTL   time.Duration
	now        func() time.Time
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
}

type Option func(*config)

func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

func WithTokenTTL(d time.Duration) Option {
	return func(cfg *config) {
		cfg.tokenTTL = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracer = tp
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.meter = mp
	}
}

// Client talks to the Marzban REST API and owns the admin token cache.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client
	tokens   *TokenCache
	tracer   trace.Tracer
	requests metric.Int64Counter
}

func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	cfg := &config{
		timeout:  15 * time.Second,
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
		tracer:   otel.GetTracerProvider(),
		meter:    otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrap(err, "parse marzban url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("marzban url %q must be absolute", baseURL)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}

	requests, err := cfg.meter.Meter(instrumentationName).Int64Counter(
		"marzban.client.requests",
		metric.WithDescription("Requests sent to the Marzban panel"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create requests counter")
	}

	c := &Client{
		baseURL:  u,
		username: username,
		password: password,
		http:     httpClient,
		tracer:   cfg.tracer.Tracer(instrumentationName),
		requests: requests,
	}
	c.tokens = NewTokenCache(c.authenticate, cfg.tokenTTL, cfg.now)

	return c, nil
}

// BaseURL returns the panel address with a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Token returns a cached admin token, re-authenticating when it has expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)

	body, err := c.send(ctx, "token", http.MethodPost, "api/admin/token", contentTypeForm, []byte(form.Encode()), "")
	if err != nil {
		return "", err
	}

	token, err := decodeToken(jx.DecodeBytes(body))
	if err != nil {
		return "", &ogenerrors.DecodeBodyError{ContentType: contentTypeJSON, Body: body, Err: err}
	}
	return token, nil
}

func (c *Client) AddUser(ctx context.Context, req UserCreate) (*User, error) {
	e := &jx.Encoder{}
	encodeUserCreate(e, req)

	body, err := c.call(ctx, "add_user", http.MethodPost, "api/user", e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeUserBody(body)
}

func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	body, err := c.call(ctx, "get_user", http.MethodGet, "api/user/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	return decodeUserBody(body)
}

func (c *Client) ModifyUser(ctx context.Context, username string, req UserModify) (*User, error) {
	e := &jx.Encoder{}
	encodeUserModify(e, req)

	body, err := c.call(ctx, "modify_user", http.MethodPut, "api/user/"+url.PathEscape(username), e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeUserBody(body)
}

func (c *Client) ListUsers(ctx context.Context, params ListUsersParams) (*UsersPage, error) {
	q := url.Values{}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	path := "api/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.call(ctx, "list_users", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	page, err := decodeUsersPage(jx.DecodeBytes(body))
	if err != nil {
		return nil, &ogenerrors.DecodeBodyError{ContentType: contentTypeJSON, Body: body, Err: err}
	}
	return &page, nil
}

// LinkTelegramUser attaches a credential to a Telegram user in the panel.
func (c *Client) LinkTelegramUser(ctx context.Context, username string, telegramID int64) error {
	e := &jx.Encoder{}
	encodeTelegramLink(e, telegramID)

	_, err := c.call(ctx, "link_telegram_user", http.MethodPut, "api/users/"+url.PathEscape(username)+"/telegram_user", e.Bytes())
	return err
}

func (c *Client) GetTelegramUser(ctx context.Context, telegramID int64) (*TelegramUser, error) {
	body, err := c.call(ctx, "get_telegram_user", http.MethodGet, "api/telegram_user/"+strconv.FormatInt(telegramID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeTelegramUserBody(body)
}

func (c *Client) CreateTelegramUser(ctx context.Context, req TelegramUser) (*TelegramUser, error) {
	e := &jx.Encoder{}
	encodeTelegramUser(e, req)

	body, err := c.call(ctx, "create_telegram_user", http.MethodPost, "api/telegram_user", e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeTelegramUserBody(body)
}

// call sends an authenticated JSON request. A 401 drops the cached token so the
// next call re-authenticates; the failed call is not retried.
func (c *Client) call(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	contentType := ""
	if payload != nil {
		contentType = contentTypeJSON
	}

	body, err := c.send(ctx, op, method, path, contentType, payload, token)
	if errors.Is(err, ErrUnauthorized) {
		c.tokens.Invalidate(token)
	}
	return body, err
}

func (c *Client) send(ctx context.Context, op, method, path, contentType string, payload []byte, token string) (_ []byte, rerr error) {
	ctx, span := c.tracer.Start(ctx, "marzban."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
	status := 0
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("operation", op),
			attribute.Int("status", status),
		)
		c.requests.Add(ctx, 1, attrs)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	target := c.baseURL.ResolveReference(&url.URL{Path: pathOnly(path), RawQuery: rawQuery(path)})

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", contentTypeJSON)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "marzban %s", op)
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrapf(err, "marzban %s: read body", op)
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Operation: op, StatusCode: status, Detail: decodeDetail(body)}
	}

	return body, nil
}

func decodeUserBody(body []byte) (*User, error) {
	u, err := decodeUser(jx.DecodeBytes(body))
	if err != nil {
		return nil, &ogenerrors.DecodeBodyError{ContentType: contentTypeJSON, Body: body, Err: err}
	}
	return &u, nil
}

func decodeTelegramUserBody(body []byte) (*TelegramUser, error) {
	u, err := decodeTelegramUser(jx.DecodeBytes(body))
	if err != nil {
		return nil, &ogenerrors.DecodeBodyError{ContentType: contentTypeJSON, Body: body, Err: err}
	}
	return &u, nil
}

func pathOnly(p string) string {
	path, _, _ := strings.Cut(p, "?")
	return path
}

func rawQuery(p string) string {
	_, query, _ := strings.Cut(p, "?")
	return query
}
