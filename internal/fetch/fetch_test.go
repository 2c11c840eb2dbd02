package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_SendsBodylessPOSTWithDefaultHeaders(t *testing.T) {
	t.Parallel()

	var gotMethod, gotAccept, gotXRW string
	var gotLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAccept = r.Header.Get("Accept")
		gotXRW = r.Header.Get("X-Requested-With")
		gotLen = r.ContentLength
		w.Write([]byte(`{"d":[]}`))
	}))
	defer srv.Close()

	body, err := New().Fetch(context.Background(), "indices", srv.URL)
	if err != nil {
		t.Fatalf("Fetch() err=%v", err)
	}
	if string(body) != `{"d":[]}` {
		t.Fatalf("body=%q", body)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method=%s, want POST", gotMethod)
	}
	if gotLen > 0 {
		t.Errorf("request had body, ContentLength=%d", gotLen)
	}
	if !strings.Contains(gotAccept, "application/json") {
		t.Errorf("Accept=%q", gotAccept)
	}
	if gotXRW != "XMLHttpRequest" {
		t.Errorf("X-Requested-With=%q", gotXRW)
	}
}

func TestFetch_StripsUTF8BOM(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\xef\xbb\xbf[{\"a\":1}]"))
	}))
	defer srv.Close()

	body, err := New().Fetch(context.Background(), "indices", srv.URL)
	if err != nil {
		t.Fatalf("Fetch() err=%v", err)
	}
	if string(body) != `[{"a":1}]` {
		t.Fatalf("body=%q, BOM not stripped", body)
	}
}

func TestFetch_NonOKStatusReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`<html><head><title>Service Unavailable</title></head></html>`))
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), "indices", srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err=%T %v, want *StatusError", err, err)
	}
	if se.Status != http.StatusServiceUnavailable {
		t.Errorf("Status=%d", se.Status)
	}
	if se.Summary != "Service Unavailable" {
		t.Errorf("Summary=%q, want HTML title", se.Summary)
	}
}

func TestFetch_NonHTMLErrorBodyHasNoSummary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), "indices", srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err=%T, want *StatusError", err)
	}
	if se.Summary != "" {
		t.Errorf("Summary=%q, want empty for non-HTML body", se.Summary)
	}
}

func TestFetch_HeaderOverrideAndRemoval(t *testing.T) {
	t.Parallel()

	var gotUA, gotXRW string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotXRW = r.Header.Get("X-Requested-With")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(WithHeaders(map[string]string{
		"User-Agent":       "custom-agent",
		"X-Requested-With": "",
	}))
	if _, err := c.Fetch(context.Background(), "indices", srv.URL); err != nil {
		t.Fatalf("Fetch() err=%v", err)
	}
	if gotUA != "custom-agent" {
		t.Errorf("User-Agent=%q", gotUA)
	}
	if gotXRW != "" {
		t.Errorf("X-Requested-With=%q, want removed", gotXRW)
	}
}

func TestFetch_TimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(WithTimeout(20 * time.Millisecond))
	_, err := c.Fetch(context.Background(), "indices", srv.URL)
	if err == nil {
		t.Fatal("Fetch() err=nil, want timeout")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("timeout surfaced as *StatusError: %v", err)
	}
}

func TestSummarizeHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "title", in: `<html><head><title>Blocked</title></head></html>`, want: "Blocked"},
		{name: "h1_fallback", in: `<html><body><h1>403 Forbidden</h1></body></html>`, want: "403 Forbidden"},
		{name: "not_html", in: `{"err": true}`, want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := summarizeHTML([]byte(tc.in)); got != tc.want {
				t.Fatalf("summarizeHTML(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
