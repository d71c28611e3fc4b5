// Package trigger sends the authenticated deploy request from the local
// orchestrator to the remote executor and defines its wire format.
package trigger

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/steplog"
)

// DeployPath is appended to endpoints configured without a path.
const DeployPath = "/deploy"

// maxResponseBody caps how much of the response is read.
const maxResponseBody = 1 << 20

// Request describes one deploy request.
type Request struct {
	Endpoint    string
	Token       string
	Timeout     time.Duration
	InsecureTLS bool
	Payload     Payload
}

// Client posts deploy requests.
type Client struct {
	HTTP *http.Client // defaults to http.DefaultClient
	Log  *steplog.Logger
}

func (c *Client) log() *steplog.Logger {
	if c.Log == nil {
		return steplog.Discard()
	}
	return c.Log
}

// Endpoint returns raw with DeployPath appended when it has no path.
func Endpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DeployPath
	}
	return u.String(), nil
}

// Describe renders the request that Send would make, with the token
// masked. Used for dry runs.
func Describe(req Request) string {
	endpoint, err := Endpoint(req.Endpoint)
	if err != nil {
		endpoint = req.Endpoint
	}
	body, _ := json.Marshal(req.Payload)
	var b strings.Builder
	fmt.Fprintf(&b, "POST %s\n", endpoint)
	fmt.Fprintf(&b, "Authorization: Bearer %s\n", pipeline.MaskToken(req.Token))
	fmt.Fprintf(&b, "%s", body)
	return b.String()
}

// Send posts req.Payload to the endpoint. A 2xx answer yields the parsed
// Response; anything else yields an *Error carrying whatever step list
// the remote side reported.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	endpoint, err := Endpoint(req.Endpoint)
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	log := c.log()
	log.Step("http", "Sending deploy request to: "+endpoint)
	if req.InsecureTLS {
		log.Warn("SSL verification disabled (--insecure flag)")
	}
	log.Debug("Deploy request prepared",
		"url", endpoint,
		"branch", req.Payload.Branch,
		"version", req.Payload.Version,
		"token", pipeline.MaskToken(req.Token),
	)

	resp, err := c.httpClient(req.InsecureTLS).Do(httpReq)
	if err != nil {
		log.Error("HTTP request exception", "error", err)
		return nil, &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: fmt.Sprintf("reading response: %v", err), Err: err}
	}
	log.Step("http", fmt.Sprintf("Response status: %d", resp.StatusCode))

	var out Response
	parseErr := json.Unmarshal(raw, &out)
	out.Status = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if parseErr != nil {
			// Non-JSON success bodies are kept verbatim.
			out = Response{Success: true, Message: strings.TrimSpace(string(raw)), Status: resp.StatusCode}
		}
		log.Info("Deploy request successful", "status", resp.StatusCode, "run_id", out.RunID)
		return &out, nil
	}

	e := &Error{Status: resp.StatusCode, Steps: out.Steps}
	if parseErr == nil && out.Message != "" {
		e.Message = out.Message
		e.Detail = out.Error
	} else {
		e.Message = strings.TrimSpace(string(raw))
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	log.Error("Deploy request failed", "status", resp.StatusCode, "message", e.Message)
	return nil, e
}

// httpClient returns the client for one call. With insecure set, the
// transport is cloned with certificate verification disabled so the
// shared client is left untouched.
func (c *Client) httpClient(insecure bool) *http.Client {
	base := c.HTTP
	if base == nil {
		base = http.DefaultClient
	}
	if !insecure {
		return base
	}

	tr, ok := base.Transport.(*http.Transport)
	if !ok || tr == nil {
		tr = http.DefaultTransport.(*http.Transport)
	}
	tr = tr.Clone()
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}
	tr.TLSClientConfig.InsecureSkipVerify = true

	clone := *base
	clone.Transport = tr
	return &clone
}
