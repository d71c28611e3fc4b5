package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deixis/shipwright/internal/pipeline"
)

func TestEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://deploy.example.com":          "https://deploy.example.com/deploy",
		"https://deploy.example.com/":         "https://deploy.example.com/deploy",
		"https://deploy.example.com/hooks/go": "https://deploy.example.com/hooks/go",
		"http://10.0.0.5:8080":                "http://10.0.0.5:8080/deploy",
	}
	for in, want := range tests {
		got, err := Endpoint(in)
		if err != nil {
			t.Errorf("Endpoint(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Endpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribe_MasksToken(t *testing.T) {
	out := Describe(Request{
		Endpoint: "https://deploy.example.com",
		Token:    "abcd1234efgh5678",
		Payload:  Payload{Branch: "main", Version: "3f2a9c1"},
	})
	if strings.Contains(out, "abcd1234efgh5678") {
		t.Errorf("Describe leaked the token: %q", out)
	}
	if !strings.Contains(out, "abcd********5678") {
		t.Errorf("Describe = %q, want masked token", out)
	}
	if !strings.Contains(out, "POST https://deploy.example.com/deploy") {
		t.Errorf("Describe = %q, want endpoint", out)
	}
	if !strings.Contains(out, `"branch":"main"`) {
		t.Errorf("Describe = %q, want body", out)
	}
}

func TestSend_Success(t *testing.T) {
	var got Payload
	var gotAuth, gotPath, gotAccept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{
			Success: true,
			Message: "Deployment completed successfully",
			Branch:  "main",
			Version: "3f2a9c1",
			Steps:   []pipeline.StepResult{pipeline.Succeeded("pull", "")},
			RunID:   "run-1",
		})
	}))
	defer ts.Close()

	c := &Client{}
	resp, err := c.Send(context.Background(), Request{
		Endpoint: ts.URL,
		Token:    "secret-token",
		Timeout:  5 * time.Second,
		Payload:  Payload{Branch: "main", Version: "3f2a9c1", WithSeed: true},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Success || resp.Status != http.StatusOK {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RunID != "run-1" || len(resp.Steps) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotPath != "/deploy" {
		t.Errorf("path = %q, want /deploy", gotPath)
	}
	if got != (Payload{Branch: "main", Version: "3f2a9c1", WithSeed: true}) {
		t.Errorf("payload = %+v", got)
	}
}

func TestSend_ServerFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(Response{
			Message: "Deployment failed",
			Error:   "migrate failed",
			Steps: []pipeline.StepResult{
				pipeline.Succeeded("pull", ""),
				pipeline.Failed("migrate", "", "migrate failed"),
			},
		})
	}))
	defer ts.Close()

	_, err := (&Client{}).Send(context.Background(), Request{Endpoint: ts.URL, Token: "t"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Send() = %v, want *Error", err)
	}
	if terr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d", terr.Status)
	}
	if len(terr.Steps) != 2 || terr.Steps[1].Status != pipeline.Error {
		t.Errorf("Steps = %+v", terr.Steps)
	}
	if !strings.Contains(err.Error(), "Deployment failed: migrate failed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSend_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Unauthorized","steps":[]}`))
	}))
	defer ts.Close()

	_, err := (&Client{}).Send(context.Background(), Request{Endpoint: ts.URL, Token: "wrong"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Send() = %v, want *Error", err)
	}
	if terr.Status != http.StatusUnauthorized || terr.Message != "Unauthorized" {
		t.Errorf("err = %+v", terr)
	}
}

func TestSend_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := (&Client{}).Send(context.Background(), Request{Endpoint: ts.URL, Token: "t"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Send() = %v, want *Error", err)
	}
	if terr.Message != "bad gateway" {
		t.Errorf("Message = %q", terr.Message)
	}
}

func TestSend_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := (&Client{}).Send(context.Background(), Request{Endpoint: url, Token: "t"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Send() = %v, want *Error", err)
	}
	if terr.Status != 0 {
		t.Errorf("Status = %d, want 0", terr.Status)
	}
}

func TestSend_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	_, err := (&Client{}).Send(context.Background(), Request{Endpoint: ts.URL, Token: "t", Timeout: 50 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() = %v, want deadline exceeded", err)
	}
}

func TestSend_InsecureTLS(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"ok","steps":[]}`))
	}))
	defer ts.Close()

	c := &Client{}
	req := Request{Endpoint: ts.URL, Token: "t", Timeout: 5 * time.Second}

	if _, err := c.Send(context.Background(), req); err == nil {
		t.Fatal("expected certificate error without InsecureTLS")
	}

	req.InsecureTLS = true
	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send with InsecureTLS: %v", err)
	}
	if !resp.Success {
		t.Errorf("resp = %+v", resp)
	}
	if http.DefaultTransport.(*http.Transport).TLSClientConfig != nil &&
		http.DefaultTransport.(*http.Transport).TLSClientConfig.InsecureSkipVerify {
		t.Error("InsecureTLS leaked into the shared transport")
	}
}
