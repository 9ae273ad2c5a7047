package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/chat-service/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Proto)
	})
}

func TestStartSinglePortHTTP_RequiresAProtocol(t *testing.T) {
	_, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{}, okHandler())
	require.Error(t, err)
}

func TestStartSinglePortHTTP_ServesPlainAndTLSOnOnePort(t *testing.T) {
	rs, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{
		EnablePlainText: true,
		EnableTLS:       true,
	}, okHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close(context.Background()) })
	require.NotZero(t, rs.Port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", rs.Port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "HTTP/1.1", string(body))

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
		ForceAttemptHTTP2: true,
	}}
	resp, err = client.Get(fmt.Sprintf("https://127.0.0.1:%d/", rs.Port))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "HTTP/2.0", string(body))
}

func TestManagementServer_DefaultsToPlaintext(t *testing.T) {
	rs, err := startManagementServer(config.ListenerConfig{}, okHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close(context.Background()) })
	require.NotNil(t, rs.HTTPServerPlain)
	require.Nil(t, rs.HTTPServerTLS)

	require.NoError(t, rs.Close(context.Background()))
	require.NoError(t, rs.Close(context.Background()), "close is idempotent")
}

func TestSelfSignedCertificateIsShared(t *testing.T) {
	a, err := loadServerCertificate("", "")
	require.NoError(t, err)
	b, err := loadServerCertificate(" ", "")
	require.NoError(t, err)
	require.Equal(t, a.Certificate, b.Certificate)
}
