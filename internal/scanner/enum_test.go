package scanner

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portintel/internal/model"
	"portintel/internal/testutil"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestEnumerator() *Enumerator {
	return NewEnumerator(EnumOptions{Enabled: true, Timeout: 2 * time.Second, HTTPS: true, FTP: true, SMB: true}, nil)
}

func TestHTTPTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><head><TITLE>  Router\n  Login &amp; Status </TITLE></head></html>")
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	assert.Equal(t, "Router Login & Status", newTestEnumerator().HTTPTitle(context.Background(), host, port, false))
}

func TestHTTPTitleTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<title>Secure</title>")
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	assert.Equal(t, "Secure", newTestEnumerator().HTTPTitle(context.Background(), host, port, true))
}

func TestHTTPTitleMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "no markup here")
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	assert.Empty(t, newTestEnumerator().HTTPTitle(context.Background(), host, port, false))
}

func TestAnonymousFTP(t *testing.T) {
	allow := testutil.NewFTPServer("220 (vsFTPd 2.3.4)", true)
	require.NoError(t, allow.Start())
	defer allow.Stop()

	ok, err := newTestEnumerator().AnonymousFTP("127.0.0.1", allow.Port())
	require.NoError(t, err)
	assert.True(t, ok)

	deny := testutil.NewFTPServer("220 ProFTPD 1.3.5 Server", false)
	require.NoError(t, deny.Start())
	defer deny.Stop()

	ok, err = newTestEnumerator().AnonymousFTP("127.0.0.1", deny.Port())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnonymousSMBUnreachable(t *testing.T) {
	srv := testutil.NewSilentServer()
	require.NoError(t, srv.Start())
	port := srv.Port()
	srv.Stop()

	_, err := newTestEnumerator().AnonymousSMB(context.Background(), "127.0.0.1", port)
	assert.Error(t, err)
}

func TestEnrichByService(t *testing.T) {
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<title>Welcome</title>")
	}))
	defer httpSrv.Close()
	host, port := hostPort(t, httpSrv.URL)

	res := model.ScanResult{Port: port, Service: "HTTP"}
	newTestEnumerator().Enrich(context.Background(), host, &res)
	assert.Equal(t, "Welcome", res.HTTPTitle)

	ftpSrv := testutil.NewFTPServer("220 ready", true)
	require.NoError(t, ftpSrv.Start())
	defer ftpSrv.Stop()

	res = model.ScanResult{Port: ftpSrv.Port(), Service: "FTP"}
	newTestEnumerator().Enrich(context.Background(), "127.0.0.1", &res)
	require.NotNil(t, res.AnonymousFTP)
	assert.True(t, *res.AnonymousFTP)

	disabled := NewEnumerator(EnumOptions{Enabled: false}, nil)
	res = model.ScanResult{Port: port, Service: "HTTP"}
	disabled.Enrich(context.Background(), host, &res)
	assert.Empty(t, res.HTTPTitle)
}
