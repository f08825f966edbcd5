package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

func TestClientConstructedOnce(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	var mu sync.Mutex
	seen := make(map[*http.Client]struct{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := p.Client()
			mu.Lock()
			seen[c] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Errorf("expected one shared client, got %d distinct clients", len(seen))
	}
}

func TestRequestGetEncodesQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := New(Config{})
	defer p.Close()

	status, body, err := p.Request(context.Background(), http.MethodGet, srv.URL, url.Values{"api_key": {"k1"}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
	if gotQuery.Get("api_key") != "k1" {
		t.Errorf("expected api_key in query, got %v", gotQuery)
	}
}

func TestRequestPostSendsForm(t *testing.T) {
	var gotContentType, gotAmount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotAmount = r.PostForm.Get("amount")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := New(Config{})
	defer p.Close()

	_, _, err := p.Request(context.Background(), http.MethodPost, srv.URL, url.Values{"amount": {"10"}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("expected form content type, got %q", gotContentType)
	}
	if gotAmount != "10" {
		t.Errorf("expected form field amount=10, got %q", gotAmount)
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := New(Config{})
	defer p.Close()

	_, _, err := p.Request(context.Background(), http.MethodGet, srv.URL, nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRequestTimeoutAbovePoolDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// A per-call timeout larger than the pool default must be honored;
	// the shared client carries no timeout of its own.
	p := New(Config{Timeout: 100 * time.Millisecond})
	defer p.Close()

	status, _, err := p.Request(context.Background(), http.MethodGet, srv.URL, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("per-call timeout was capped by the pool default: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
}
