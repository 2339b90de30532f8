package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestHTTPFetchSuccess(t *testing.T) {
	var (
		mu     sync.Mutex
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><span class="a-offscreen">₹499</span></html>`))
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{Timeout: time.Second}, noopLogger())
	for i := 0; i < 3; i++ {
		page, err := f.Fetch(context.Background(), srv.URL+"/dp/item")
		if err != nil {
			t.Fatalf("成功响应不应报错: %v", err)
		}
		if page.StatusCode != http.StatusOK || page.Body == "" {
			t.Fatalf("页面内容不正确: %#v", page)
		}
	}

	if len(agents) != 3 {
		t.Fatalf("期望 3 次请求, 实际 %d", len(agents))
	}
	for _, ua := range agents {
		if ua != f.UserAgent() || ua == "" {
			t.Fatalf("同一实例的 User-Agent 应保持不变: %v", agents)
		}
	}
}

func TestHTTPFetchConfiguredUserAgent(t *testing.T) {
	f := NewHTTP(HTTPOptions{UserAgents: []string{"  ", "pricetracker-test/1.0"}}, noopLogger())
	if f.UserAgent() != "pricetracker-test/1.0" {
		t.Fatalf("应使用配置的 User-Agent, 实际 %q", f.UserAgent())
	}
}

func TestHTTPFetchStatusError(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		f := NewHTTP(HTTPOptions{Timeout: time.Second}, noopLogger())
		_, err := f.Fetch(context.Background(), srv.URL)
		srv.Close()

		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("HTTP %d 应返回 FetchError, 实际 %v", tc.status, err)
		}
		if fe.Kind != KindHTTPStatus || fe.StatusCode != tc.status {
			t.Fatalf("错误分类不正确: %#v", fe)
		}
		if fe.Retryable() != tc.retryable {
			t.Fatalf("HTTP %d retryable 期望 %v", tc.status, tc.retryable)
		}
	}
}

func TestHTTPFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTP(HTTPOptions{Timeout: 50 * time.Millisecond}, noopLogger())
	_, err := f.Fetch(context.Background(), srv.URL)
	if KindOf(err) != KindTimeout {
		t.Fatalf("超时应归类为 timeout, 实际 %v", err)
	}
}

func TestHTTPFetchConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f := NewHTTP(HTTPOptions{Timeout: time.Second}, noopLogger())
	_, err := f.Fetch(context.Background(), addr)
	if KindOf(err) != KindConnection {
		t.Fatalf("连接失败应归类为 connection, 实际 %v", err)
	}
}

func TestHTTPFetchPacesSameHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	delay := 80 * time.Millisecond
	f := NewHTTP(HTTPOptions{Timeout: time.Second, RequestDelay: delay}, noopLogger())

	start := time.Now()
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay-10*time.Millisecond {
		t.Fatalf("首次请求同一主机前也应等待 %s, 实际 %s", delay, elapsed)
	}
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*delay-20*time.Millisecond {
		t.Fatalf("同一主机的两次请求间隔应不小于 %s, 实际 %s", delay, elapsed)
	}
}
