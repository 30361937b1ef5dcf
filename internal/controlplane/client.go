// Package controlplane implements the Control-Plane Client (CPC): a
// resource-oriented gateway client that routes every read/write on the
// core data sources through request(domain, source, verb, params, body),
// with transparent fallback to the local Storage Manager when the gateway
// is unreachable (spec §4.2).
//
// The HTTP call/retry/decode shape is grounded on the teacher's
// internal/mcp/transport_http.go (context-aware *http.Client, JSON
// marshal/unmarshal of a single "call" helper, status-code-driven error
// construction); the domain/source/verb resource routing, the health-flag
// fallback switch, and the retriable-error classification are specific to
// this spec and have no teacher analogue beyond that HTTP shape.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"contextpipe/internal/contextitem"
	"contextpipe/internal/storage"
)

// Verb enumerates the control-plane verbs (spec §4.2).
type Verb string

const (
	VerbList   Verb = "list"
	VerbGet    Verb = "get"
	VerbSearch Verb = "search"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

func (v Verb) httpMethod() string {
	switch v {
	case VerbCreate:
		return http.MethodPost
	case VerbUpdate:
		return http.MethodPatch
	case VerbDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

func (v Verb) isWrite() bool {
	return v == VerbCreate || v == VerbUpdate || v == VerbDelete
}

// FallbackRoute names the Storage Manager collection a (domain, source)
// pair falls back to, and whether write verbs may fall back too. Per
// spec §4.2, every (domain, source) the core actually consumes is
// fallback_safe.
type FallbackRoute struct {
	Collection   string
	FallbackSafe bool
}

// health tracks the in-memory health flag described in spec §4.2: a
// successful HTTP call resets it to healthy; any of {connection refused,
// DNS failure, timeout, 5xx, malformed JSON} degrades it.
type health int32

const (
	healthHealthy health = iota
	healthDegraded
)

// Client is the uniform request(domain, source, verb, params, body)
// surface over HTTP, with SM fallback.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	timeout      time.Duration
	retryBackoff time.Duration

	sm       *storage.Manager
	fallback map[string]FallbackRoute // key: domain+"/"+source

	health health
	log    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer credential sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the default 10s per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryBackoff overrides the default 250ms single-retry back-off.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryBackoff = d }
}

// WithHTTPClient overrides the transport (used by tests to point at an
// httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client over baseURL, backed by sm for fallback.
func New(baseURL string, sm *storage.Manager, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL:      baseURL,
		timeout:      10 * time.Second,
		retryBackoff: 250 * time.Millisecond,
		httpClient:   &http.Client{},
		sm:           sm,
		fallback:     defaultFallbackTable(),
		log:          log.With(zap.String("component", "controlplane.Client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// defaultFallbackTable maps every (domain, source) pair the core consumes
// to its Storage Manager collection, per spec §4.1/§4.2.
func defaultFallbackTable() map[string]FallbackRoute {
	return map[string]FallbackRoute{
		"memory/memories": {Collection: "memories", FallbackSafe: true},
		"kanban/tasks":    {Collection: "tasks", FallbackSafe: true},
		"crew/projects":   {Collection: "projects", FallbackSafe: true},
		"jam/sessions":    {Collection: "sessions", FallbackSafe: true},
		"knowledge/graph": {Collection: "graph", FallbackSafe: true},
	}
}

// RegisterFallback adds or replaces a (domain, source) fallback route.
func (c *Client) RegisterFallback(domain, source string, route FallbackRoute) {
	c.fallback[domain+"/"+source] = route
}

// Healthy reports the in-memory health flag. A degraded client short-
// circuits straight to the Storage Manager fallback instead of attempting
// the gateway (spec §4.2: "consult the in-memory health flag; if degraded,
// short-circuit to SM for the same (domain,source,verb)").
func (c *Client) Healthy() bool {
	return health(atomic.LoadInt32((*int32)(&c.health))) == healthHealthy
}

func (c *Client) markHealthy() {
	atomic.StoreInt32((*int32)(&c.health), int32(healthHealthy))
}

func (c *Client) markDegraded() {
	atomic.StoreInt32((*int32)(&c.health), int32(healthDegraded))
}

// Request is the uniform surface described in spec §4.2. While the client
// is degraded it skips the gateway entirely and goes straight to fallback;
// a gateway call is only attempted again once nothing else can serve the
// request (no fallback route, or the route isn't fallback_safe for a write
// verb), since there would otherwise be no path back to healthy.
func (c *Client) Request(ctx context.Context, domain, source string, verb Verb, params map[string]string, body map[string]any) (contextitem.Response, error) {
	if !c.Healthy() {
		if fbResp, fbErr := c.fallbackRequest(domain, source, verb, params, body); fbErr == nil {
			c.log.Debug("control plane degraded, short-circuiting to local fallback",
				zap.String("domain", domain), zap.String("source", source), zap.String("verb", string(verb)))
			return fbResp, nil
		}
	}

	resp, err := c.requestHTTP(ctx, domain, source, verb, params, body)
	if err == nil {
		c.markHealthy()
		return resp, nil
	}

	var cpErr *Error
	retriable := false
	if e, ok := err.(*Error); ok {
		cpErr = e
		retriable = e.Retriable
	}

	if retriable {
		time.Sleep(c.retryBackoff)
		resp, retryErr := c.requestHTTP(ctx, domain, source, verb, params, body)
		if retryErr == nil {
			c.markHealthy()
			return resp, nil
		}
		err = retryErr
		if e, ok := retryErr.(*Error); ok {
			cpErr = e
		}
	}

	if cpErr != nil && (cpErr.Kind == KindNetwork || cpErr.Kind == KindTimeout || cpErr.Kind == KindServerError || cpErr.Kind == KindMalformed) {
		c.markDegraded()
		if fbResp, fbErr := c.fallbackRequest(domain, source, verb, params, body); fbErr == nil {
			c.log.Warn("control plane degraded, served from local fallback",
				zap.String("domain", domain), zap.String("source", source), zap.String("verb", string(verb)))
			return fbResp, nil
		}
	}

	return contextitem.Response{}, err
}

func (c *Client) fallbackRequest(domain, source string, verb Verb, params map[string]string, body map[string]any) (contextitem.Response, error) {
	route, ok := c.fallback[domain+"/"+source]
	if !ok {
		return contextitem.Response{}, newError(KindNetwork, false, "no fallback route registered for %s/%s", domain, source)
	}
	if verb.isWrite() && !route.FallbackSafe {
		return contextitem.Response{}, newError(KindNetwork, false, "fallback not permitted for write verb %s on %s/%s", verb, domain, source)
	}
	if c.sm == nil {
		return contextitem.Response{}, newError(KindNetwork, false, "no local store configured for fallback")
	}

	switch verb {
	case VerbList, VerbSearch:
		filter := make(map[string]any, len(params))
		for k, v := range params {
			filter[k] = v
		}
		recs, err := c.sm.List(route.Collection, filter)
		if err != nil {
			return contextitem.Response{}, err
		}
		return contextitem.Response{OK: true, Data: toRecords(recs), Meta: map[string]any{"domain": domain, "source": source, "fallback": true}}, nil
	case VerbGet:
		id := params["id"]
		rec, err := c.sm.Get(route.Collection, id)
		if err != nil {
			return contextitem.Response{}, err
		}
		if rec == nil {
			return contextitem.Response{OK: false, Err: &contextitem.ResponseError{Code: "NOT_FOUND", Message: "record not found"}}, nil
		}
		return contextitem.Response{OK: true, Data: contextitem.Record(rec), Meta: map[string]any{"domain": domain, "source": source, "fallback": true}}, nil
	case VerbCreate:
		rec, err := c.sm.Create(route.Collection, body)
		if err != nil {
			return contextitem.Response{}, err
		}
		return contextitem.Response{OK: true, Data: contextitem.Record(rec), Meta: map[string]any{"domain": domain, "source": source, "fallback": true}}, nil
	case VerbUpdate:
		id := params["id"]
		rec, err := c.sm.Update(route.Collection, id, body)
		if err != nil {
			return contextitem.Response{}, err
		}
		return contextitem.Response{OK: true, Data: contextitem.Record(rec), Meta: map[string]any{"domain": domain, "source": source, "fallback": true}}, nil
	case VerbDelete:
		id := params["id"]
		ok, err := c.sm.Delete(route.Collection, id)
		if err != nil {
			return contextitem.Response{}, err
		}
		return contextitem.Response{OK: ok, Meta: map[string]any{"domain": domain, "source": source, "fallback": true}}, nil
	default:
		return contextitem.Response{}, newError(KindBadRequest, false, "unknown verb %s", verb)
	}
}

func toRecords(in []map[string]any) []contextitem.Record {
	out := make([]contextitem.Record, len(in))
	for i, r := range in {
		out[i] = contextitem.Record(r)
	}
	return out
}

// requestHTTP performs a single HTTP round trip, translating transport and
// status-code failures into *Error (spec §4.2, §7).
func (c *Client) requestHTTP(ctx context.Context, domain, source string, verb Verb, params map[string]string, body map[string]any) (contextitem.Response, error) {
	path := fmt.Sprintf("%s/api/v1/data/%s/%s/%s", c.baseURL, domain, source, verb)
	if id, ok := params["id"]; ok && verb == VerbGet {
		path = path + "/" + id
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return contextitem.Response{}, newError(KindMalformed, false, "marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, verb.httpMethod(), path, bodyReader)
	if err != nil {
		return contextitem.Response{}, newError(KindNetwork, true, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	q := req.URL.Query()
	for k, v := range params {
		if verb == VerbGet && k == "id" {
			continue
		}
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeoutErr(err) {
			return contextitem.Response{}, newError(KindTimeout, true, "request timed out: %v", err)
		}
		return contextitem.Response{}, newError(KindNetwork, true, "request failed: %v", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return contextitem.Response{}, newError(KindMalformed, false, "read response body: %v", err)
	}

	if httpResp.StatusCode >= 400 {
		kind := kindForStatus(httpResp.StatusCode)
		retriable := kind == KindServerError
		return contextitem.Response{}, newError(kind, retriable, "server returned status %d: %s", httpResp.StatusCode, string(data))
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return contextitem.Response{}, newError(KindMalformed, false, "malformed JSON response: %v", err)
	}

	resp := contextitem.Response{OK: wire.OK, Meta: wire.Meta}
	if wire.Meta == nil {
		resp.Meta = map[string]any{}
	}
	resp.Meta["domain"] = domain
	resp.Meta["source"] = source
	if wire.Error != nil {
		resp.Err = &contextitem.ResponseError{Code: wire.Error.Code, Message: wire.Error.Message}
	}
	resp.Data = decodeData(wire.Data)
	return resp, nil
}

type wireResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *wireError      `json:"error"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeData turns the raw "data" field into either []contextitem.Record
// or a single contextitem.Record, matching spec §3's "list<Record> |
// Record | null" shape.
func decodeData(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return toRecords(list)
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err == nil {
		return contextitem.Record(single)
	}
	return nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
