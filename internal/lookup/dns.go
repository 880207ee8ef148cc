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
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/metrics"
)

// DNSResolver issues A queries with miekg/dns. When no nameserver is known it
// falls back to the system resolver.
type DNSResolver struct {
	server  string // host:port; empty means net.DefaultResolver
	client  *dns.Client
	tcp     *dns.Client
	limiter *core.RateLimiter
}

// DNSOptions configures a DNSResolver. Zero values pick defaults.
type DNSOptions struct {
	// Server is the nameserver as host:port. Empty reads /etc/resolv.conf.
	Server string
	// Timeout bounds one exchange. Defaults to core.DNSTimeout.
	Timeout time.Duration
	// Rate is the initial queries per second. Defaults to core.DefaultDNSRate.
	Rate float64
}

// NewDNSResolver creates a resolver from opts.
func NewDNSResolver(opts DNSOptions) *DNSResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = core.DNSTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = core.DefaultDNSRate
	}
	server := opts.Server
	if server == "" {
		if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
			server = net.JoinHostPort(conf.Servers[0], conf.Port)
		}
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{
			Net:     "udp",
			Timeout: opts.Timeout,
		},
		tcp: &dns.Client{
			Net:     "tcp",
			Timeout: opts.Timeout,
		},
		limiter: core.NewRateLimiter(opts.Rate, int(opts.Rate)),
	}
}

// Server returns the nameserver in use, or "" for the system resolver.
func (r *DNSResolver) Server() string { return r.server }

// ResolveA returns the A records for name. NXDOMAIN, SERVFAIL and empty
// answers are errors. When the adaptive limiter has no token to spare before
// ctx's deadline, the error wraps core.ErrRateLimited and nothing is sent.
func (r *DNSResolver) ResolveA(ctx context.Context, name string) (ips []net.IP, err error) {
	start := time.Now()
	defer func() {
		metrics.GetMetrics().RecordLookup(string(KindDNS), err, time.Since(start))
	}()

	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return nil, newError(KindDNS, name, ErrEmptyName)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, newError(KindDNS, name, err)
	}

	if r.server == "" {
		return r.resolveSystem(ctx, name)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err == nil && resp != nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, msg, r.server)
	}
	if err != nil {
		r.limiter.RecordFailure()
		return nil, newError(KindDNS, name, err)
	}
	if resp == nil {
		return nil, newError(KindDNS, name, ErrNoAnswer)
	}
	r.limiter.RecordSuccess()
	metrics.GetMetrics().UpdateRateLimit(string(KindDNS), r.limiter.GetCurrentRate())

	if resp.Rcode != dns.RcodeSuccess {
		rerr := &Error{
			Kind:      KindDNS,
			Domain:    name,
			Err:       fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode]),
			Retryable: resp.Rcode == dns.RcodeServerFailure,
		}
		return nil, rerr
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, newError(KindDNS, name, ErrNoAnswer)
	}
	return ips, nil
}

func (r *DNSResolver) resolveSystem(ctx context.Context, name string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", name)
	if err != nil {
		return nil, newError(KindDNS, name, err)
	}
	if len(addrs) == 0 {
		return nil, newError(KindDNS, name, ErrNoAnswer)
	}
	return addrs, nil
}
