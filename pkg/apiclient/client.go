// Package apiclient talks to the booking platform's REST API.
//
// Every call attaches the bearer credential from the session store. When no
// credential is available the call returns errors.ErrNoToken without touching
// the network. No call is ever retried.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booking-inbox/client/pkg/config"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/middleware"
	"booking-inbox/client/pkg/resilience"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("booking-inbox/client/pkg/apiclient")

// TokenSource yields the current bearer credential, or "" when there is none
type TokenSource interface {
	Token() string
}

// Endpoints are the path templates of the API. "{id}" is replaced by the
// escaped conversation id.
type Endpoints struct {
	Conversations      string
	MessageChain       []string
	MarkSeen           string
	SendMessage        string
	DeleteConversation string
	Login              string
}

// Options configures a Client
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	Endpoints    Endpoints
	UploadFolder string
	HTTPClient   *http.Client
	Breaker      *resilience.CircuitBreaker
	Metrics      *Metrics
	Logger       *logger.Logger
}

// OptionsFromConfig maps the API section of the configuration onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	chain := make([]string, 0, 3)
	for _, p := range []string{cfg.API.MessagesPrimary, cfg.API.MessagesAlt, cfg.API.MessagesLegacy} {
		if p != "" {
			chain = append(chain, p)
		}
	}
	return Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Endpoints: Endpoints{
			Conversations:      cfg.API.Conversations,
			MessageChain:       chain,
			MarkSeen:           cfg.API.MarkSeen,
			SendMessage:        cfg.API.SendMessage,
			DeleteConversation: cfg.API.DeleteConv,
			Login:              cfg.API.Login,
		},
		UploadFolder: cfg.API.UploadFolder,
	}
}

// Client is the REST client
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	eps     Endpoints
	folder  string
	breaker *resilience.CircuitBreaker
	metrics *Metrics
	log     *logger.Logger
	chain   []RequestDescriptor
}

// New creates a Client. tokens is usually the session store.
func New(opts Options, tokens TokenSource) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}
	if opts.UploadFolder == "" {
		opts.UploadFolder = "messages"
	}

	c := &Client{
		baseURL: base,
		http:    httpClient,
		tokens:  tokens,
		eps:     opts.Endpoints,
		folder:  opts.UploadFolder,
		breaker: opts.Breaker,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	c.chain = messageChain(opts.Endpoints.MessageChain)

	if c.breaker != nil {
		metrics := c.metrics
		c.breaker.OnStateChange(func(state resilience.CircuitBreakerState) {
			for _, s := range []resilience.CircuitBreakerState{resilience.StateClosed, resilience.StateOpen, resilience.StateHalfOpen} {
				v := 0.0
				if s == state {
					v = 1
				}
				metrics.BreakerState.WithLabelValues(string(s)).Set(v)
			}
		})
	}
	return c, nil
}

// BaseURL is the API origin, used to resolve relative attachment paths
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Ping checks that the API origin answers at all. Any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("ping", err)
	}
	resp.Body.Close()
	return nil
}

// request is one outgoing API call
type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	anonymous   bool
}

// do sends r and returns the raw body of a 2xx response
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	token := ""
	if !r.anonymous {
		token = c.tokens.Token()
		if token == "" {
			c.log.Warn("Skipping API call without a bearer token", "op", r.op)
			return nil, apperrors.ErrNoToken
		}
	}

	ctx, span := tracer.Start(ctx, "apiclient."+r.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("http.route", r.path),
	)

	var body []byte
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var callErr error
		body, callErr = c.send(ctx, r, token)
		return callErr
	})
	c.metrics.Duration.WithLabelValues(r.op).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(apperrors.GetErrorCode(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.Requests.WithLabelValues(r.op, outcome).Inc()
	return body, err
}

func (c *Client) send(ctx context.Context, r request, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL.String()+r.path, r.body)
	if err != nil {
		return nil, apperrors.NewNetworkError(r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError(r.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError(r.op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewAPIStatusError(r.op, resp.StatusCode)
	}
	return body, nil
}

// expand fills the {id} placeholder of a path template
func expand(template, id string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(id))
}

// ListConversations fetches every conversation of the current identity
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	body, err := c.do(ctx, request{op: "list_conversations", method: http.MethodGet, path: c.eps.Conversations})
	if err != nil {
		return nil, err
	}
	conversations, err := decodeList[Conversation](body, "conversations")
	if err != nil {
		return nil, apperrors.NewDecodeError("list_conversations", err)
	}
	return conversations, nil
}

// MarkSeen flags the conversation's messages as seen for the current identity
func (c *Client) MarkSeen(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, request{op: "mark_seen", method: http.MethodPost, path: expand(c.eps.MarkSeen, conversationID)})
	return err
}

// DeleteConversation removes the conversation for the current identity
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, request{op: "delete_conversation", method: http.MethodDelete, path: expand(c.eps.DeleteConversation, conversationID)})
	return err
}

// LoginResult is the API's answer to a credential login
type LoginResult struct {
	Token string
	User  Participant
}

// Login exchanges credentials for a bearer token. The token is minted by the
// API; this only forwards the request.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return LoginResult{}, err
	}
	body, err := c.do(ctx, request{
		op:          "login",
		method:      http.MethodPost,
		path:        c.eps.Login,
		body:        bytes.NewReader(payload),
		contentType: "application/json",
		anonymous:   true,
	})
	if err != nil {
		return LoginResult{}, err
	}

	var raw struct {
		Token       string      `json:"token"`
		AccessToken string      `json:"accessToken"`
		User        Participant `json:"user"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return LoginResult{}, apperrors.NewDecodeError("login", err)
	}
	token := firstNonEmpty(raw.Token, raw.AccessToken)
	if token == "" {
		return LoginResult{}, apperrors.NewDecodeError("login", fmt.Errorf("no token in response"))
	}
	return LoginResult{Token: token, User: raw.User}, nil
}

// decodeList reads either a bare JSON array or an object wrapping the array
// under key (or "data").
func decodeList[T any](body []byte, key string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []T{}, nil
	}
	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	for _, k := range []string{key, "data", "items"} {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '{' {
			// {"data": {"messages": [...]}}
			return decodeList[T](raw, key)
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	}
	return nil, fmt.Errorf("no %q array in response", key)
}
