package lookup

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

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/x-stp/domaingate/internal/client"
	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/metrics"
)

// HTTPSProber performs an HTTPS GET against the domain root and reports
// whether the certificate verified.
type HTTPSProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSProber creates a prober on top of httpClient. A nil client uses the
// shared client. timeout <= 0 uses core.TLSProbeTimeout.
func NewHTTPSProber(httpClient *http.Client, timeout time.Duration) *HTTPSProber {
	if httpClient == nil {
		httpClient = client.GetHTTPClient()
	}
	if timeout <= 0 {
		timeout = core.TLSProbeTimeout
	}
	// Redirects are not followed: the handshake with name itself is what counts.
	c := *httpClient
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPSProber{client: &c, timeout: timeout}
}

// Probe fetches https://name/. Any HTTP status counts as a valid handshake.
func (p *HTTPSProber) Probe(ctx context.Context, name string) (ok bool, err error) {
	start := time.Now()
	defer func() {
		metrics.GetMetrics().RecordLookup(string(KindTLS), err, time.Since(start))
	}()

	if name == "" {
		return false, newError(KindTLS, name, ErrEmptyName)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var handshakeStart time.Time
	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { handshakeStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, herr error) {
			if herr == nil && !handshakeStart.IsZero() {
				metrics.GetMetrics().ObserveTLSHandshake(time.Since(handshakeStart))
			}
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+name+"/", nil)
	if err != nil {
		return false, newError(KindTLS, name, err)
	}
	req.Header.Set("User-Agent", client.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		if isCertificateError(err) {
			return false, nil
		}
		return false, newError(KindTLS, name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, core.MaxProbeBodyBytes))

	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return false, nil
	}
	return true, nil
}

// isCertificateError reports whether err came from certificate verification
// rather than from the transport.
func isCertificateError(err error) bool {
	var verr *tls.CertificateVerificationError
	if errors.As(err, &verr) {
		return true
	}
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return true
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return true
	}
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid)
}
