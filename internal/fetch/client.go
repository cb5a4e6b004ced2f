package fetch

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/proxy"
	"animeagg/lib/restyutil"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/fetch")

const (
	report_client_fetch       = "client.fetch"
	report_client_proxy_parse = "client.proxy-parse"
	report_client_dump        = "client.dump"
)

// ProxySelector hands out the proxy to use for the next call, ok is false
// when the call should go out directly.
type ProxySelector interface {
	NextProxy() (proxy.Record, bool)
}

type ResponseType string

const (
	ResponseHTML ResponseType = "html"
	ResponseJSON ResponseType = "json"
)

type Options struct {
	// Method defaults to GET.
	Method  string
	Headers map[string]string
	// Timeout of a single attempt, the client default is used when zero.
	Timeout      time.Duration
	ResponseType ResponseType
}

type Config struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
	// Headers are sent with every request, per call headers win.
	Headers map[string]string
	// DumpDir, when set, receives a copy of every request and response.
	DumpDir string
}

func DefaultConfig() Config {
	return Config{
		Retries: 3,
		Backoff: time.Millisecond * 200,
		Timeout: time.Second * 15,
		Headers: DefaultHeaders(),
	}
}

func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
}

type proxyCtxKeyType int

var proxyCtxKey proxyCtxKeyType

// Client performs outbound requests with retries, rotating proxies and
// shared headers.
type Client struct {
	client  *resty.Client
	proxies ProxySelector
	config  Config
	tel     telemetry.API
}

// NewClient creates a client, proxies may be nil for direct connections.
func NewClient(config Config, proxies ProxySelector, tel telemetry.API) Client {
	assert.NotNil(tel, "telemetry")

	defaults := DefaultConfig()
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.Backoff <= 0 {
		config.Backoff = defaults.Backoff
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Headers == nil {
		config.Headers = defaults.Headers
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		proxyURL, _ := req.Context().Value(proxyCtxKey).(*url.URL)
		return proxyURL, nil
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(config.Timeout).
		SetHeaders(config.Headers)

	scoped := telemetry.NewScopedAPI("fetch", tel)
	telemetry.InstrumentResty(client, scoped, "animeagg.fetch")

	if config.DumpDir != "" {
		output, err := restyutil.NewDirectoryOutput(config.DumpDir)
		if err != nil {
			scoped.ReportBroken(report_client_dump, config.DumpDir, err)
		} else {
			restyutil.DumpMessages(client, output)
		}
	}

	return Client{
		client:  client,
		proxies: proxies,
		config:  config,
		tel:     scoped,
	}
}

func (c Client) selectProxy(ctx context.Context) (context.Context, string) {
	if c.proxies == nil {
		return ctx, ""
	}
	record, ok := c.proxies.NextProxy()
	if !ok {
		return ctx, ""
	}
	proxyURL, err := record.URL()
	if err != nil {
		c.tel.ReportWarning(report_client_proxy_parse, err)
		return ctx, ""
	}
	return context.WithValue(ctx, proxyCtxKey, proxyURL), record.Address
}

func (c Client) attempt(ctx context.Context, target string, opts Options) ([]byte, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := c.client.R().SetContext(ctx)
	if opts.ResponseType == ResponseJSON {
		req.SetHeader("Accept", "application/json, text/plain, */*")
	}
	req.SetHeaders(opts.Headers)

	res, err := req.Execute(opts.Method, target)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, StatusError{Code: res.StatusCode()}
	}
	return res.Body(), nil
}

// Fetch requests target and returns the response body. A proxy is picked
// once per call, failed attempts are retried with a linear backoff.
func (c Client) Fetch(ctx context.Context, target string, opts Options) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetch:Fetch")
	defer span.End()

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	opts.Method = strings.ToUpper(opts.Method)

	ctx, proxyAddress := c.selectProxy(ctx)
	span.SetAttributes(
		attribute.String("url", target),
		attribute.String("proxy", proxyAddress),
	)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		attempts++
		body, err := c.attempt(ctx, target, opts)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempts))
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == c.config.Retries {
			break
		}
		wait := c.config.Backoff * time.Duration(attempt+1)
		c.tel.ReportDebug("retrying fetch", target, attempt+1, wait.String(), err)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	err := FetchError{URL: target, Attempts: attempts, Reason: lastErr}
	span.RecordError(err)
	span.SetStatus(codes.Error, "fetch failed")
	c.tel.ReportWarning(report_client_fetch, err)
	return nil, err
}
