package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/report"
)

const maxBodyBytes = 8 << 20

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Params names the query parameters understood by the upstream API.
type Params struct {
	Endpoint string
	Month    string
	Year     string
}

// DefaultParams matches the spreadsheet API's parameter names.
func DefaultParams() Params {
	return Params{Endpoint: "endpoint", Month: "mes", Year: "ano"}
}

type Options struct {
	BaseURL string
	// HTTPClient defaults to an http.Client with Timeout.
	HTTPClient httpDoer
	Timeout    time.Duration
	Params     Params
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	Clock      clockwork.Clock
}

// Client performs one upstream request per Fetch and normalises the
// response envelope.
type Client struct {
	base    *url.URL
	client  httpDoer
	params  Params
	logger  *slog.Logger
	metrics *metrics.Recorder
	clock   clockwork.Clock
}

func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("fetch: base url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fetch: base url scheme %q unsupported", base.Scheme)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	params := opts.Params
	defaults := DefaultParams()
	if params.Endpoint == "" {
		params.Endpoint = defaults.Endpoint
	}
	if params.Month == "" {
		params.Month = defaults.Month
	}
	if params.Year == "" {
		params.Year = defaults.Year
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Client{
		base:    base,
		client:  client,
		params:  params,
		logger:  logger.With(slog.String("agent", "fetcher")),
		metrics: opts.Metrics,
		clock:   clock,
	}, nil
}

// URL builds the request URL for def. The endpoint parameter always comes
// first, followed by month and year for period sensitive reports.
func (c *Client) URL(def report.Definition, p report.Period) string {
	u := *c.base
	var query strings.Builder
	query.WriteString(u.RawQuery)
	add := func(name, value string) {
		if query.Len() > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(name))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(value))
	}
	add(c.params.Endpoint, string(def.ID))
	if def.PeriodSensitive {
		add(c.params.Month, strconv.Itoa(p.Month))
		add(c.params.Year, strconv.Itoa(p.Year))
	}
	u.RawQuery = query.String()
	return u.String()
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// Fetch retrieves the data payload for def. Any failure is an *Error.
func (c *Client) Fetch(ctx context.Context, def report.Definition, p report.Period) (json.RawMessage, error) {
	start := c.clock.Now()
	data, err := c.fetch(ctx, def, p)
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	c.metrics.ObserveFetch(string(def.ID), outcome, c.clock.Since(start))
	if err != nil {
		c.logger.Debug("fetch failed",
			slog.String("report", string(def.ID)),
			slog.String("period", p.String()),
			slog.Any("error", err),
		)
		return nil, err
	}
	return data, nil
}

func (c *Client) fetch(ctx context.Context, def report.Definition, p report.Period) (json.RawMessage, error) {
	id := string(def.ID)
	fail := func(kind Kind, msg string, err error) error {
		return &Error{Kind: kind, Report: id, Message: msg, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(def, p), nil)
	if err != nil {
		return nil, fail(KindNetwork, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fail(KindNetwork, "request", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTPStatus, Report: id, StatusCode: resp.StatusCode, Message: resp.Status}
	}
	if err != nil {
		return nil, fail(KindNetwork, "read body", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fail(KindMalformedPayload, "decode envelope", err)
	}

	switch env.Status {
	case "success":
	case "error":
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "unspecified error"
		}
		return nil, &Error{Kind: KindUpstreamError, Report: id, Message: msg}
	default:
		return nil, fail(KindMalformedPayload, fmt.Sprintf("unknown status %q", env.Status), nil)
	}

	// A present null is a valid empty report; only an absent field is malformed.
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 {
		return nil, fail(KindMalformedPayload, "data missing", nil)
	}

	if def.Guard.Compiled() {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fail(KindMalformedPayload, "decode data", err)
		}
		ok, err := def.Guard.EvalBool(map[string]any{
			"data":   decoded,
			"report": id,
			"period": map[string]int64{"month": int64(p.Month), "year": int64(p.Year)},
		})
		if err != nil {
			return nil, fail(KindMalformedPayload, "guard", err)
		}
		if !ok {
			return nil, fail(KindMalformedPayload, fmt.Sprintf("guard %q rejected payload", def.Guard.Source()), nil)
		}
	}

	return json.RawMessage(bytes.Clone(data)), nil
}
