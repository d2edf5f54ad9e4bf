// Package validator checks calendar account configuration before the sync
// engine ever dials an external provider: URL shape and scheme, private-IP
// blocking on outbound connections, CalDAV capability checks, and file paths
// for file-backed calendars.
package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrHTTPSRequired    = errors.New("HTTPS is required")
	ErrPrivateIP        = errors.New("private IP addresses are not allowed")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidCalDAV    = errors.New("invalid CalDAV endpoint")
	ErrInvalidFilePath  = errors.New("invalid calendar file path")
)

const (
	maxRedirects   = 3
	defaultTimeout = 10 * time.Second
	minTLSVersion  = tls.VersionTLS12
)

// Validator checks account configuration values.
type Validator struct {
	client          *http.Client
	allowPrivateIPs bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowPrivateIPs allows connections to private IP addresses, for
// deployments where the CalDAV server lives on the same network.
func WithAllowPrivateIPs() Option {
	return func(v *Validator) {
		v.allowPrivateIPs = true
	}
}

// New creates a Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	v.client = v.createHTTPClient()
	return v
}

func (v *Validator) createHTTPClient() *http.Client {
	redirectCount := 0

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return v.dialWithIPCheck(ctx, network, addr)
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirectCount++
			if redirectCount > maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

func (v *Validator) dialWithIPCheck(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed: %w", err)
	}

	for _, ip := range ips {
		if !v.allowPrivateIPs && isPrivateIP(ip) {
			return nil, ErrPrivateIP
		}
	}

	dialer := &net.Dialer{
		Timeout:   defaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, addr)
}

// isPrivateIP checks if an IP address is private or reserved.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsUnspecified() {
		return true
	}
	return false
}

// ValidateURL validates a URL string.
// If requireHTTPS is true, only HTTPS URLs are accepted.
func (v *Validator) ValidateURL(rawURL string, requireHTTPS bool) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse error: %w", ErrInvalidURL, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if requireHTTPS && parsed.Scheme != "https" {
		return ErrHTTPSRequired
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}

	return nil
}

// ValidateEndpointURL checks an external endpoint URL against the validator's
// scheme policy. Plain HTTP is tolerated only when private addresses are
// allowed, for servers on the same network.
func (v *Validator) ValidateEndpointURL(rawURL string) error {
	return v.ValidateURL(rawURL, !v.allowPrivateIPs)
}

// ValidateCalDAVEndpoint validates a CalDAV endpoint by checking its OPTIONS
// response.
func (v *Validator) ValidateCalDAVEndpoint(ctx context.Context, endpointURL string) error {
	if err := v.ValidateEndpointURL(endpointURL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCalDAV, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, endpointURL, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrInvalidCalDAV, err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: OPTIONS returned status %d", ErrInvalidCalDAV, resp.StatusCode)
	}

	// A DAV header indicates WebDAV/CalDAV support.
	if resp.Header.Get("DAV") == "" {
		return fmt.Errorf("%w: missing DAV header", ErrInvalidCalDAV)
	}

	return nil
}

// ValidateFilePath validates the path of a file-backed calendar. The file
// itself may not exist yet, but its directory must.
func (v *Validator) ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidFilePath)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s is not absolute", ErrInvalidFilePath, path)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: parent of %s is not a directory", ErrInvalidFilePath, path)
	}

	return nil
}
