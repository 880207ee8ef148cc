package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x-stp/domaingate/internal/client"
)

func TestHTTPSProberAcceptsVerifiedCertificate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	p := NewHTTPSProber(srv.Client(), time.Second)
	ok, err := p.Probe(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPSProberDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://unreachable.invalid/", http.StatusFound)
	}))
	defer srv.Close()

	p := NewHTTPSProber(srv.Client(), time.Second)
	ok, err := p.Probe(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPSProberReportsUntrustedCertificate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// A client that does not trust the test CA sees a verification failure.
	p := NewHTTPSProber(client.NewClient(nil), time.Second)
	ok, err := p.Probe(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPSProberTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.Listener.Addr().String()
	srv.Close()

	p := NewHTTPSProber(client.NewClient(nil), time.Second)
	ok, err := p.Probe(context.Background(), addr)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, KindTLS, KindOf(err))
}
