package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/limbo/cadence/internal/errvalues"
)

type HTTPConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Tokens         TokenSource
}

// HTTPClient talks to the habit store's records API. One configured
// client serves the whole process; mirrors receive it as a dependency.
type HTTPClient struct {
	base    string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
	timeout time.Duration
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		log.Fatal("remote: base URL is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		// Subscribe streams indefinitely, so the shared client carries
		// no global timeout; unary calls get per-request contexts.
		http:    &http.Client{},
		tokens:  cfg.Tokens,
		logger:  slog.Default().With(slog.String("component", "remote")),
		timeout: timeout,
	}
}

func (c *HTTPClient) List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error) {
	query := url.Values{}
	if expr := opts.Filter.Encode(); expr != "" {
		query.Set("filter", expr)
	}
	if opts.Sort != "" {
		query.Set("sort", opts.Sort)
	}
	if opts.Order != "" {
		query.Set("order", opts.Order)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := c.recordsURL(collection)
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	result := ListResult{}
	if err := sonic.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %s", errvalues.ErrUnparsableRecord, err)
	}
	return &result, nil
}

func (c *HTTPClient) Create(ctx context.Context, collection string, fields any) (json.RawMessage, error) {
	payload, err := sonic.Marshal(fields)
	if err != nil {
		return nil, errors.New("encoding create payload error: " + err.Error())
	}
	return c.do(ctx, http.MethodPost, c.recordsURL(collection), payload)
}

func (c *HTTPClient) Update(ctx context.Context, collection, id string, patch any) (json.RawMessage, error) {
	payload, err := sonic.Marshal(patch)
	if err != nil {
		return nil, errors.New("encoding update patch error: " + err.Error())
	}
	return c.do(ctx, http.MethodPatch, c.recordsURL(collection)+"/"+url.PathEscape(id), payload)
}

func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.recordsURL(collection)+"/"+url.PathEscape(id), nil)
	return err
}

// Subscribe opens the collection's SSE stream and forwards decoded
// events until unsubscribed. The stream is best-effort: a broken or
// unparsable frame is logged and skipped, a dead connection ends the
// subscription and a later reload reconciles.
func (c *HTTPClient) Subscribe(collection string, filter Filter, onEvent func(Event)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(context.Background())
	endpoint := c.recordsURL(collection) + "/subscribe"
	if expr := filter.Encode(); expr != "" {
		endpoint += "?filter=" + url.QueryEscape(expr)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, errors.New("building subscribe request error: " + err.Error())
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, errors.New("opening subscription error: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("subscription refused with status %d", resp.StatusCode)
	}
	go c.readEvents(ctx, collection, resp.Body, onEvent)
	return func() {
		cancel()
	}, nil
}

func (c *HTTPClient) readEvents(ctx context.Context, collection string, body io.ReadCloser, onEvent func(Event)) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		event := Event{}
		if err := sonic.Unmarshal([]byte(payload), &event); err != nil {
			c.logger.Warn("dropping unparsable push event",
				slog.String("collection", collection),
				slog.String("error", err.Error()))
			continue
		}
		onEvent(event)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("subscription stream closed",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
	}
}

func (c *HTTPClient) recordsURL(collection string) string {
	return c.base + "/api/collections/" + url.PathEscape(collection) + "/records"
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.New("building request error: " + err.Error())
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New("store request error: " + err.Error())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New("reading store response error: " + err.Error())
	}
	if resp.StatusCode >= 400 {
		return nil, c.decodeError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *HTTPClient) decodeError(status int, body []byte) error {
	if status == http.StatusNotFound {
		return errvalues.ErrNotFound
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return errvalues.ErrAuthRequired
	}
	storeErr := errorResponse{}
	if err := sonic.Unmarshal(body, &storeErr); err == nil && storeErr.Message != "" {
		return fmt.Errorf("store error %d: %s", status, storeErr.Message)
	}
	return fmt.Errorf("store error %d", status)
}
