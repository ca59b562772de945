package serviceclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayTransportBuildsRequest(t *testing.T) {
	var received *http.Request
	var receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Clone(r.Context())
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.Header().Set("X-Upstream", "users-v3")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer server.Close()

	transport := NewGatewayTransport(server.URL+"/", "billing", "secret-token")
	resp, err := transport.Execute(context.Background(), &Request{
		Service:   "users",
		Method:    "POST",
		Endpoint:  "/v1/users",
		Query:     url.Values{"expand": []string{"profile"}},
		Header:    http.Header{"X-Tenant": []string{"acme"}},
		Body:      []byte(`{"name":"ada"}`),
		RequestID: "req-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/gateway/users/v1/users", received.URL.Path)
	assert.Equal(t, "profile", received.URL.Query().Get("expand"))
	assert.Equal(t, "billing", received.Header.Get("X-Service-Name"))
	assert.Equal(t, "secret-token", received.Header.Get("X-Service-Token"))
	assert.Equal(t, "req-123", received.Header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", received.Header.Get("Content-Type"))
	assert.Equal(t, "acme", received.Header.Get("X-Tenant"))
	assert.Equal(t, `{"name":"ada"}`, receivedBody)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "users-v3", resp.Header.Get("X-Upstream"))
	assert.Equal(t, `{"id":"42"}`, string(resp.Body))
}

func TestGatewayTransportNormalizesEndpoint(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer server.Close()

	transport := NewGatewayTransport(server.URL, "billing", "token")
	_, err := transport.Execute(context.Background(), &Request{
		Service:  "users",
		Method:   "GET",
		Endpoint: "v1/users",
	})
	require.NoError(t, err)
	assert.Equal(t, "/gateway/users/v1/users", path)
}

func TestGatewayTransportReturnsResponseForErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"upstream_unavailable","message":"users is down"}}`))
	}))
	defer server.Close()

	transport := NewGatewayTransport(server.URL, "billing", "token")
	resp, err := transport.Execute(context.Background(), &Request{
		Service: "users", Method: "GET", Endpoint: "/v1/users",
	})

	// Non-2xx is not a transport error: classification happens elsewhere.
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGatewayTransportHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := NewGatewayTransport(server.URL, "billing", "token")
	_, err := transport.Execute(ctx, &Request{Service: "users", Method: "GET", Endpoint: "/v1/users"})
	require.Error(t, err)
}

func TestParseGatewayError(t *testing.T) {
	resp := &Response{
		StatusCode: 502,
		Body:       []byte(`{"error":{"type":"bad_gateway","message":"upstream reset","correlation_id":"corr-7"}}`),
	}
	gatewayErr := ParseGatewayError(resp)
	require.NotNil(t, gatewayErr)
	assert.Equal(t, "bad_gateway", gatewayErr.ErrorType)
	assert.Equal(t, "upstream reset", gatewayErr.Message)
	assert.Equal(t, "corr-7", gatewayErr.CorrelationID)
	assert.Contains(t, gatewayErr.Error(), "corr-7")
}

func TestParseGatewayErrorNonGatewayBody(t *testing.T) {
	assert.Nil(t, ParseGatewayError(nil))
	assert.Nil(t, ParseGatewayError(&Response{StatusCode: 502}))
	assert.Nil(t, ParseGatewayError(&Response{StatusCode: 502, Body: []byte("<html>bad gateway</html>")}))
	assert.Nil(t, ParseGatewayError(&Response{StatusCode: 502, Body: []byte(`{"message":"plain"}`)}))
}
