package client

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client provides the shared HTTP client used by the TLS probe and the
reputation service adapter.

The package keeps one global client that is configured once at startup and
retrieved by every adapter, so probes and reputation calls reuse TCP and TLS
sessions and share the same timeouts. Turbo mode trades politeness for
throughput when large candidate batches have to be vetted quickly.
*/

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTP client-specific constants.
const (
	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete.
	DialTimeout = 5 * time.Second
	// KeepAliveTimeout is the interval between keep-alive probes for active network connections.
	KeepAliveTimeout = 60 * time.Second
	// RequestTimeout is the timeout for the entire HTTP request, including reading the body.
	// Per-call contexts in the adapters are usually shorter.
	RequestTimeout = 15 * time.Second
	// MaxIdleConnsPerHost is the maximum number of idle (keep-alive) connections to keep per-host.
	// Probes hit many distinct hosts once, so this stays small compared to MaxIdleConns.
	MaxIdleConnsPerHost = 4
	// UserAgent is sent on every outbound request.
	UserAgent = "domaingate/1.0 (+https://github.com/x-stp/domaingate)"
)

var (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveTimeout      = 60 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxConnsPerHost       = 16
	defaultRequestTimeout        = 15 * time.Second

	// sharedClient is the global HTTP client instance used by the application.
	// It is lazily initialized on first use or when explicitly configured.
	sharedClient *http.Client
	// sharedClientLock protects access to sharedClient and clientInitialized.
	sharedClientLock sync.RWMutex
	// clientInitialized indicates whether the sharedClient has been initialized.
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config will result in default settings being used.
type Config struct {
	// DialTimeout is the maximum duration for establishing a new connection.
	DialTimeout time.Duration
	// KeepAliveTimeout specifies the keep-alive period for an active network connection.
	KeepAliveTimeout time.Duration
	// IdleConnTimeout is the maximum amount of time an idle (keep-alive) connection
	// will remain idle before closing itself.
	IdleConnTimeout time.Duration
	// TLSHandshakeTimeout bounds the handshake of the TLS probe.
	TLSHandshakeTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers after the request is written.
	ResponseHeaderTimeout time.Duration
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum number of idle (keep-alive) connections to keep per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost controls the maximum number of connections per host, including connections in the dialing,
	// active, and idle states. On limit violation, dials will block.
	MaxConnsPerHost int
	// RequestTimeout is the timeout for the entire HTTP request.
	RequestTimeout time.Duration
}

// DefaultConfig returns a new Config struct populated with default HTTP client settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:           defaultDialTimeout,
		KeepAliveTimeout:      defaultKeepAliveTimeout,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		MaxConnsPerHost:       defaultMaxConnsPerHost,
		RequestTimeout:        defaultRequestTimeout,
	}
}

// fillDefaults replaces zero values so callers can pass partial configs.
func fillDefaults(config *Config) {
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = defaultIdleConnTimeout
	}
	if config.TLSHandshakeTimeout == 0 {
		config.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if config.ResponseHeaderTimeout == 0 {
		config.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = defaultMaxIdleConns
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	}
	if config.MaxConnsPerHost == 0 {
		config.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
}

// NewClient builds a standalone client from config without touching the
// shared instance. A nil config uses DefaultConfig.
func NewClient(config *Config) *http.Client {
	if config == nil {
		config = DefaultConfig()
	}
	fillDefaults(config)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
		// Certificate verification stays on: the probe reports a failed
		// verification as sslValid=false.
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
	}
}

// InitHTTPClient initializes or reconfigures the shared global HTTP client with the provided configuration.
// If a nil config is provided, it uses the default configuration obtained from DefaultConfig().
// This function is thread-safe.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	// Close idle connections on the old transport so reconfiguring does not
	// leak keep-alive connections.
	if sharedClient != nil {
		if oldTransport, ok := sharedClient.Transport.(*http.Transport); ok && oldTransport != nil {
			oldTransport.CloseIdleConnections()
		}
	}

	sharedClient = NewClient(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared global HTTP client instance.
// If the client has not been initialized, it will be initialized with default settings.
// This function is thread-safe.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	client := sharedClient
	sharedClientLock.RUnlock()
	return client
}

// ConfigureHTTPClient is equivalent to calling InitHTTPClient.
func ConfigureHTTPClient(config *Config) {
	InitHTTPClient(config)
}

// ConfigureTurboMode applies aggressive settings for vetting large batches:
// shorter dial and handshake timeouts and a larger connection pool.
func ConfigureTurboMode() {
	turboConfig := &Config{
		DialTimeout:           2 * time.Second,
		KeepAliveTimeout:      120 * time.Second,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 3 * time.Second,
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       64,
		RequestTimeout:        10 * time.Second,
	}
	ConfigureHTTPClient(turboConfig)
}
