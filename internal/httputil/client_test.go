package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewStandardClient(t *testing.T) {
	c := NewStandardClient(3 * time.Second)
	if c.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", c.Timeout)
	}
}

func TestDoJSON_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"ada"}` {
			t.Errorf("got body %s", body)
		}
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	var out struct {
		ID string `json:"id"`
	}
	in := map[string]string{"name": "ada"}
	if err := DoJSON(context.Background(), NewStandardClient(time.Second), http.MethodPut, server.URL+"/doc", in, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out.ID != "abc" {
		t.Errorf("got id %q, want abc", out.ID)
	}
}

func TestDoJSON_StatusError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusNotFound, `{"error":"missing"}`)

	err := DoJSON(context.Background(), mock, http.MethodGet, "http://docs.local/impact", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound || !strings.Contains(se.Error(), "missing") {
		t.Errorf("unexpected status error: %v", se)
	}
}

func TestDoJSON_EmptyAndMalformedBodies(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusNoContent, "")
	mock.AddResponse(http.StatusOK, "{not json")

	var out map[string]any
	if err := DoJSON(context.Background(), mock, http.MethodDelete, "http://docs.local/impact", nil, &out); err != nil {
		t.Errorf("empty body should decode to nothing, got %v", err)
	}
	err := DoJSON(context.Background(), mock, http.MethodGet, "http://docs.local/impact", nil, &out)
	if !errors.Is(err, ErrDecodeResponse) {
		t.Errorf("expected ErrDecodeResponse for malformed body, got %v", err)
	}
}

func TestDoJSON_TransportError(t *testing.T) {
	mock := NewMockHTTPClient()
	expectedErr := errors.New("connection refused")
	mock.AddErrorResponse(expectedErr)

	err := DoJSON(context.Background(), mock, http.MethodGet, "http://docs.local/impact", nil, nil)
	if !errors.Is(err, expectedErr) {
		t.Errorf("got error %v, want %v", err, expectedErr)
	}
}

func TestMockHTTPClient_RecordsBodies(t *testing.T) {
	mock := NewMockHTTPClient()
	if err := DoJSON(context.Background(), mock, http.MethodPost, "http://docs.local/leaderboard", map[string]int{"speed": 30}, nil); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}

	if mock.RequestCount() != 1 {
		t.Fatalf("got %d requests, want 1", mock.RequestCount())
	}
	if got := mock.GetBody(0); got != `{"speed":30}` {
		t.Errorf("got body %q", got)
	}
	if req := mock.GetRequest(0); req == nil || req.Method != http.MethodPost {
		t.Errorf("GetRequest(0) = %v", req)
	}
	if mock.GetRequest(5) != nil || mock.GetBody(-1) != "" {
		t.Error("out of range lookups should return zero values")
	}
}

func TestMockHTTPClient_DoFuncAndDefaultError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTeapot,
			Body:       io.NopCloser(strings.NewReader("custom")),
			Request:    req,
		}, nil
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusTeapot {
		t.Errorf("DoFunc not used: %v %v", resp, err)
	}

	mock = NewMockHTTPClient()
	mock.DefaultError = errors.New("network error")
	if _, err := mock.Do(req); err != mock.DefaultError {
		t.Errorf("got error %v, want default error", err)
	}
}
