package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/extractor"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/storage"
)

type scriptedFetcher struct {
	calls   int
	results []func() (fetcher.Page, error)
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (fetcher.Page, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func pageWith(body string) func() (fetcher.Page, error) {
	return func() (fetcher.Page, error) { return fetcher.Page{StatusCode: 200, Body: body}, nil }
}

func failWith(err error) func() (fetcher.Page, error) {
	return func() (fetcher.Page, error) { return fetcher.Page{}, err }
}

type stubRenderer struct {
	html  string
	err   error
	calls int
}

func (r *stubRenderer) Render(ctx context.Context, url string, selectors []extractor.Selector) (string, error) {
	r.calls++
	return r.html, r.err
}

type fixture struct {
	store   *storage.MemoryStore
	product storage.Product
}

func newFixture(t *testing.T, url string) fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	p, err := store.CreateProduct(context.Background(), storage.Product{OwnerID: "u1", Name: "Item", URL: url, Active: true})
	if err != nil {
		t.Fatalf("创建商品失败: %v", err)
	}
	return fixture{store: store, product: p}
}

func (fx fixture) scraper(f fetcher.Fetcher, r extractor.Renderer, retries int) *Scraper {
	ex := extractor.New(r, zerolog.Nop())
	classifier := extractor.NewClassifier(map[string]extractor.SiteKind{"127.0.0.1": extractor.SiteAmazon})
	return New(Options{MaxRetries: retries}, classifier, f, ex, fx.store, zerolog.Nop())
}

func (fx fixture) lastAttempt(t *testing.T) storage.ScrapeAttempt {
	t.Helper()
	attempts, err := fx.store.ListRecentAttempts(context.Background(), fx.product.ID, 1)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("应存在抓取记录: %v %d", err, len(attempts))
	}
	return attempts[0]
}

func TestScrapeUnsupportedSiteSkipsNetwork(t *testing.T) {
	fx := newFixture(t, "https://shop.example.com/item/1")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){pageWith("")}}
	r := &stubRenderer{}

	res := fx.scraper(f, r, 2).Scrape(context.Background(), fx.product)
	if res.OK() || res.Price != nil || res.Status() != storage.AttemptFailed {
		t.Fatalf("不支持的站点应失败: %#v", res)
	}
	if res.Failure.Kind != FailureUnsupportedSite {
		t.Fatalf("失败类型不正确: %s", res.Failure.Kind)
	}
	if f.calls != 0 || r.calls != 0 {
		t.Fatalf("不应发起任何网络请求: fetch=%d render=%d", f.calls, r.calls)
	}

	attempt := fx.lastAttempt(t)
	if attempt.Status != storage.AttemptFailed || attempt.Error == nil || attempt.CompletedAt == nil {
		t.Fatalf("应记录失败原因与完成时间: %#v", attempt)
	}
}

func TestScrapeSuccessOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><div id="corePrice_feature_div"><span class="a-offscreen">₹1,29,999.00</span></div></html>`))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/dp/B0TEST")
	httpFetcher := fetcher.NewHTTP(fetcher.HTTPOptions{Timeout: time.Second}, zerolog.Nop())

	res := fx.scraper(httpFetcher, nil, 1).Scrape(context.Background(), fx.product)
	if !res.OK() {
		t.Fatalf("应成功抓取价格: %#v", res.Failure)
	}
	if !res.Price.Equal(decimal.RequireFromString("129999.00")) {
		t.Fatalf("价格不正确: %s", res.Price)
	}

	attempt := fx.lastAttempt(t)
	if attempt.Status != storage.AttemptSuccess || attempt.Price == nil || !attempt.Price.Equal(*res.Price) {
		t.Fatalf("抓取记录应更新为 success: %#v", attempt)
	}
	if attempt.Error != nil || attempt.Latency < 0 || attempt.RetryCount != 0 {
		t.Fatalf("抓取记录字段不正确: %#v", attempt)
	}
}

func TestScrapeRetriesRetryableErrors(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0RETRY")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){
		failWith(&fetcher.FetchError{Kind: fetcher.KindHTTPStatus, StatusCode: 503, Err: errors.New("unavailable")}),
		pageWith(`<span class="a-price-whole">2,499.</span>`),
	}}

	res := fx.scraper(f, nil, 2).Scrape(context.Background(), fx.product)
	if !res.OK() || !res.Price.Equal(decimal.NewFromInt(2499)) {
		t.Fatalf("重试后应成功: %#v", res)
	}
	if f.calls != 2 || res.Attempt.RetryCount != 1 {
		t.Fatalf("应重试一次: calls=%d retries=%d", f.calls, res.Attempt.RetryCount)
	}
}

func TestScrapeDoesNotRetryClientErrors(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0GONE")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){
		failWith(&fetcher.FetchError{Kind: fetcher.KindHTTPStatus, StatusCode: 404, Err: errors.New("not found")}),
	}}

	res := fx.scraper(f, nil, 3).Scrape(context.Background(), fx.product)
	if res.OK() || res.Failure.Kind != FailureHTTPStatus {
		t.Fatalf("404 应直接失败: %#v", res)
	}
	if f.calls != 1 {
		t.Fatalf("4xx 不应重试, 实际请求 %d 次", f.calls)
	}
}

func TestScrapeRenderFallbackAfterTimeout(t *testing.T) {
	fx := newFixture(t, "https://www.flipkart.com/item/p/itm1")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){
		failWith(&fetcher.FetchError{Kind: fetcher.KindTimeout, Err: context.DeadlineExceeded}),
	}}
	r := &stubRenderer{html: `<div class="Nx9bqj CxhGGd">₹54,990</div>`}

	res := fx.scraper(f, r, 0).Scrape(context.Background(), fx.product)
	if !res.OK() || !res.Rendered {
		t.Fatalf("渲染兜底应成功: %#v", res.Failure)
	}
	if r.calls != 1 {
		t.Fatalf("应调用一次渲染器")
	}
}

func TestScrapeRenderFallbackAfterNotFound(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0JS")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){pageWith(`<div id="app"></div>`)}}
	r := &stubRenderer{html: `<span id="priceblock_ourprice">₹899.00</span>`}

	res := fx.scraper(f, r, 0).Scrape(context.Background(), fx.product)
	if !res.OK() || !res.Price.Equal(decimal.NewFromInt(899)) {
		t.Fatalf("静态页面无价格时应走渲染兜底: %#v", res.Failure)
	}
}

func TestScrapeAllPathsExhausted(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0NONE")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){pageWith(`<p>nothing</p>`)}}
	r := &stubRenderer{err: errors.New("chrome not installed")}

	res := fx.scraper(f, r, 0).Scrape(context.Background(), fx.product)
	if res.OK() || res.Failure.Kind != FailureNotFound {
		t.Fatalf("应返回 extraction_not_found: %#v", res)
	}
	if !strings.Contains(res.Failure.Detail, "chrome not installed") {
		t.Fatalf("失败详情应包含渲染错误: %s", res.Failure.Detail)
	}
	attempt := fx.lastAttempt(t)
	if attempt.Error == nil || !strings.Contains(*attempt.Error, "extraction_not_found") {
		t.Fatalf("抓取记录应保存失败原因: %#v", attempt)
	}
}

func TestScrapeUnparseableRecordedAsPartial(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0OOS")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){pageWith(`<span class="a-offscreen">Currently unavailable</span>`)}}

	res := fx.scraper(f, nil, 0).Scrape(context.Background(), fx.product)
	if res.OK() || res.Status() != storage.AttemptFailed {
		t.Fatalf("调用方应看到 failed: %#v", res)
	}
	if attempt := fx.lastAttempt(t); attempt.Status != storage.AttemptPartial {
		t.Fatalf("抓取记录应为 partial, 实际 %s", attempt.Status)
	}
}

func TestScrapeRecoversPanics(t *testing.T) {
	fx := newFixture(t, "https://www.amazon.in/dp/B0PANIC")
	f := &scriptedFetcher{results: []func() (fetcher.Page, error){
		func() (fetcher.Page, error) { panic("boom") },
	}}

	res := fx.scraper(f, nil, 0).Scrape(context.Background(), fx.product)
	if res.OK() || res.Failure.Kind != FailureInternal {
		t.Fatalf("panic 应转换为失败结果: %#v", res)
	}
	if attempt := fx.lastAttempt(t); attempt.Status != storage.AttemptFailed || attempt.CompletedAt == nil {
		t.Fatalf("panic 后仍应写入完整的抓取记录: %#v", attempt)
	}
}
