package serviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody bounds how much of a response body is read into memory.
const maxResponseBody = 10 * 1024 * 1024

// GatewayTransport executes requests through the ThinkReality API gateway.
// The gateway resolves the target service; this transport only builds
// {gatewayURL}/gateway/{service}{endpoint} and attaches the identifying
// headers the gateway requires.
type GatewayTransport struct {
	gatewayURL   string
	serviceName  string
	serviceToken string
	httpClient   *http.Client
}

// NewGatewayTransport creates a transport routed through the given gateway.
// serviceName and serviceToken identify the calling service to the gateway.
func NewGatewayTransport(gatewayURL, serviceName, serviceToken string) *GatewayTransport {
	return &GatewayTransport{
		gatewayURL:   strings.TrimRight(gatewayURL, "/"),
		serviceName:  serviceName,
		serviceToken: serviceToken,
		httpClient:   &http.Client{},
	}
}

// WithHTTPClient swaps the underlying *http.Client (TLS, pooling, proxies).
func (t *GatewayTransport) WithHTTPClient(client *http.Client) *GatewayTransport {
	t.httpClient = client
	return t
}

// Execute implements Transport. It returns a Response for any status code;
// interpreting the status is the classifier's job.
func (t *GatewayTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	endpoint := req.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	url := fmt.Sprintf("%s/gateway/%s%s", t.gatewayURL, req.Service, endpoint)
	if len(req.Query) > 0 {
		url += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("X-Service-Name", t.serviceName)
	httpReq.Header.Set("X-Service-Token", t.serviceToken)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       respBody,
	}, nil
}

// gatewayErrorEnvelope is the gateway's structured error body.
type gatewayErrorEnvelope struct {
	Error struct {
		Type          string `json:"type"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id"`
	} `json:"error"`
}

// ParseGatewayError extracts the gateway's structured error from an error
// response body. Returns nil when the body is not in the gateway format.
func ParseGatewayError(resp *Response) *GatewayError {
	if resp == nil || len(resp.Body) == 0 {
		return nil
	}
	var envelope gatewayErrorEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil
	}
	if envelope.Error.Type == "" && envelope.Error.Message == "" {
		return nil
	}
	return &GatewayError{
		ErrorType:     envelope.Error.Type,
		Message:       envelope.Error.Message,
		CorrelationID: envelope.Error.CorrelationID,
	}
}
