package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	xproxy "golang.org/x/net/proxy"
)

const DefaultProbeURL = "http://example.com"

// HTTPProber sends a HEAD request to ProbeURL through the proxy.
type HTTPProber struct {
	ProbeURL string
	Timeout  time.Duration
}

func NewHTTPProber(probeURL string, timeout time.Duration) HTTPProber {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = time.Second * 5
	}
	return HTTPProber{ProbeURL: probeURL, Timeout: timeout}
}

func (p HTTPProber) client(record Record) (*resty.Client, error) {
	proxyURL, err := record.URL()
	if err != nil {
		return nil, err
	}

	if proxyURL.Scheme != "socks5" {
		client := resty.New().SetTimeout(p.Timeout)
		client.SetProxy(proxyURL.String())
		return client, nil
	}

	var auth *xproxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &xproxy.Auth{User: proxyURL.User.Username(), Password: password}
	}
	dialer, err := xproxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{Timeout: p.Timeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	contextDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	transport := &http.Transport{
		DialContext:       contextDialer.DialContext,
		DisableKeepAlives: true,
	}
	return resty.New().SetTransport(transport).SetTimeout(p.Timeout), nil
}

func (p HTTPProber) Probe(ctx context.Context, record Record) error {
	client, err := p.client(record)
	if err != nil {
		return err
	}
	defer client.GetClient().CloseIdleConnections()

	res, err := client.R().
		SetContext(ctx).
		Head(p.ProbeURL)
	if err != nil {
		return err
	}
	if res.StatusCode() >= 400 {
		return fmt.Errorf("probe through %s: %s", record.Address, res.Status())
	}
	return nil
}
