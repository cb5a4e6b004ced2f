package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Record is one egress proxy. Address is either "host:port" (assumed http)
// or a url with an http, https or socks5 scheme and optional credentials.
type Record struct {
	Address string `json:"address"`
	Healthy bool   `json:"healthy"`
}

func NewRecord(address string) Record {
	return Record{Address: strings.TrimSpace(address), Healthy: true}
}

// NewRecords turns a list of addresses into healthy records, skipping blank
// entries.
func NewRecords(addresses []string) []Record {
	out := make([]Record, 0, len(addresses))
	for _, a := range addresses {
		if strings.TrimSpace(a) == "" {
			continue
		}
		out = append(out, NewRecord(a))
	}
	return out
}

// URL parses the address of the record.
func (r Record) URL() (*url.URL, error) {
	address := strings.TrimSpace(r.Address)
	if address == "" {
		return nil, fmt.Errorf("empty proxy address")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse proxy address '%s': %w", r.Address, err)
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme '%s'", parsed.Scheme)
	}
	if parsed.Hostname() == "" || parsed.Port() == "" {
		return nil, fmt.Errorf("proxy address '%s' must have a host and a port", r.Address)
	}
	return parsed, nil
}
