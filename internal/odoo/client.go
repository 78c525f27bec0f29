// Package odoo is a JSON-RPC client for the target ledger system. It speaks
// the common/object service envelope, authenticates lazily, retries
// transient transport failures with capped backoff, and exposes the small
// verb set the pipeline depends on: search_read, search, create, write and
// message_post, plus typed lookups over the record types the pipeline
// touches.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apflow/internal/logger"
)

const (
	maxAttempts   = 3
	retryBaseWait = 500 * time.Millisecond
	retryMaxWait  = 5 * time.Second
)

// Client talks to one ledger endpoint with one set of credentials. It is
// safe for sequential reuse across a run; authentication happens on first
// use and the uid is cached.
type Client struct {
	BaseURL string
	DB      string
	Login   string

	password string
	endpoint string
	http     *http.Client
	log      zerolog.Logger

	mu     sync.Mutex
	uid    int64
	nextID int64
}

// NewClient builds a client for the given endpoint. The base URL may carry
// trailing slashes; they are stripped.
func NewClient(baseURL, db, login, password string) *Client {
	base := NormalizeBaseURL(baseURL)
	return &Client{
		BaseURL:  base,
		DB:       db,
		Login:    login,
		password: password,
		endpoint: base + "/jsonrpc",
		http:     &http.Client{Timeout: 60 * time.Second},
		log:      logger.WithComponent("odoo"),
	}
}

// NormalizeBaseURL trims whitespace and trailing slashes from an endpoint URL.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

var hostedDBRe = regexp.MustCompile(`(?i)^https://([a-z0-9-]+)\.odoo\.com\b`)

// DeriveDBFromBaseURL extracts the database name from a hosted subdomain
// URL. It returns "" when the URL is not a hosted endpoint.
func DeriveDBFromBaseURL(baseURL string) string {
	m := hostedDBRe.FindStringSubmatch(strings.TrimSpace(baseURL))
	if m == nil {
		return ""
	}
	db := strings.TrimSpace(m[1])
	if db == "" || strings.EqualFold(db, "false") {
		return ""
	}
	return db
}

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcErrorPayload) text() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

type rpcResponse struct {
	Result json.RawMessage  `json:"result"`
	Error  *rpcErrorPayload `json:"error"`
}

// call performs one JSON-RPC round trip, retrying transport-level failures
// (network errors, 429, 5xx) with capped backoff. Application-level RPC
// errors are returned immediately.
func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	const op = "call"

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      id,
	})
	if err != nil {
		return nil, NewRPCError(op, err, "encode request")
	}

	var lastErr error
	wait := retryBaseWait
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewRPCError(op, ctx.Err(), "")
			case <-time.After(wait):
			}
			wait *= 2
			if wait > retryMaxWait {
				wait = retryMaxWait
			}
		}

		result, retryable, err := c.post(ctx, body)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("service", service).Str("method", method).
			Msg("Transient RPC failure, retrying")
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, bool, error) {
	const op = "post"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, NewRPCError(op, err, "")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, NewRPCError(op, err, c.endpoint)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, NewRPCError(op, err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		detail := fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(text), 600))
		return nil, retryable, NewRPCError(op, ErrHTTP, detail)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(text, &parsed); err != nil {
		return nil, false, NewRPCError(op, err, "decode response")
	}
	if parsed.Error != nil {
		return nil, false, NewRPCError(op, ErrRPC, parsed.Error.text())
	}
	return parsed.Result, false, nil
}

// Authenticate resolves and caches the session uid.
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	const op = "Authenticate"

	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}

	raw, err := c.call(ctx, "common", "authenticate", []any{c.DB, c.Login, c.password, map[string]any{}})
	if err != nil {
		return 0, err
	}
	// A wrong login yields literal false rather than an error payload.
	if err := json.Unmarshal(raw, &uid); err != nil || uid == 0 {
		return 0, NewRPCError(op, ErrAuthFailed, fmt.Sprintf("%s / %s / %s", c.BaseURL, c.DB, c.Login))
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return uid, nil
}

// ExecuteKw invokes model.method through execute_kw and returns the raw
// JSON result for the caller to decode.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.call(ctx, "object", "execute_kw", []any{c.DB, uid, c.password, model, method, args, kwargs})
}

// Row is one record as returned by search_read. Field values keep the wire
// polymorphism (false stands in for empty strings and unset relations), so
// access goes through the typed getters.
type Row map[string]any

// Int64 returns the field as an integer id, 0 when absent or false.
func (r Row) Int64(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Float returns the field as a float, 0 when absent or false.
func (r Row) Float(key string) float64 {
	if v, ok := r[key].(float64); ok {
		return v
	}
	return 0
}

// Str returns the field as a string, "" when absent or the literal false.
func (r Row) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the field as a boolean.
func (r Row) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// M2O returns the id of a many-to-one field, which arrives either as
// [id, display_name], a bare number, or false.
func (r Row) M2O(key string) int64 {
	switch v := r[key].(type) {
	case []any:
		if len(v) > 0 {
			if id, ok := v[0].(float64); ok {
				return int64(id)
			}
		}
	case float64:
		return int64(v)
	}
	return 0
}

// M2OName returns the display name of a many-to-one field, "" when unset.
func (r Row) M2OName(key string) string {
	if v, ok := r[key].([]any); ok && len(v) > 1 {
		if name, ok := v[1].(string); ok {
			return name
		}
	}
	return ""
}

// SearchRead runs search_read and decodes the result rows.
func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, kwargs map[string]any) ([]Row, error) {
	const op = "SearchRead"

	raw, err := c.ExecuteKw(ctx, model, "search_read", []any{domain, fields}, kwargs)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewRPCError(op, err, model)
	}
	return rows, nil
}

// Search runs search and returns the matching record ids.
func (c *Client) Search(ctx context.Context, model string, domain []any, kwargs map[string]any) ([]int64, error) {
	const op = "Search"

	raw, err := c.ExecuteKw(ctx, model, "search", []any{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, NewRPCError(op, err, model)
	}
	return ids, nil
}

// Create inserts one record and returns its id.
func (c *Client) Create(ctx context.Context, model string, vals map[string]any) (int64, error) {
	const op = "Create"

	raw, err := c.ExecuteKw(ctx, model, "create", []any{vals}, nil)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, NewRPCError(op, err, model)
	}
	return id, nil
}

// Write updates the given records.
func (c *Client) Write(ctx context.Context, model string, ids []int64, vals map[string]any) error {
	_, err := c.ExecuteKw(ctx, model, "write", []any{ids, vals}, nil)
	return err
}

// MessagePost posts a chatter note on a record. Failures are swallowed;
// chatter is informational only.
func (c *Client) MessagePost(ctx context.Context, companyID int64, model string, resID int64, body string) {
	kwargs := KwWithCompany(companyID, map[string]any{
		"body":          body,
		"message_type":  "comment",
		"subtype_xmlid": "mail.mt_note",
		"body_is_html":  true,
	})
	if _, err := c.ExecuteKw(ctx, model, "message_post", []any{[]int64{resID}}, kwargs); err != nil {
		c.log.Debug().Err(err).Str("model", model).Int64("res_id", resID).Msg("Chatter post failed")
	}
}

// KwWithCompany builds the kwargs map that pins a call to one company,
// covering the context keys different server versions honor.
func KwWithCompany(companyID int64, extra map[string]any) map[string]any {
	kw := map[string]any{
		"context": map[string]any{
			"allowed_company_ids": []int64{companyID},
			"force_company":       companyID,
			"company_id":          companyID,
		},
	}
	for k, v := range extra {
		kw[k] = v
	}
	return kw
}

// Cond builds one domain condition triple.
func Cond(field, op string, value any) []any {
	return []any{field, op, value}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
