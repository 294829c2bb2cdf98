package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/books-etl/config"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testBaseURL = "http://example.test"

func newTestCollector(t *testing.T, transport *httpmock.MockTransport) *Collector {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL

	c, err := NewCollector(cfg, NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	c.collector.WithTransport(transport)
	return c
}

func pageURL(n int) string {
	return fmt.Sprintf("%s/catalogue/page-%d.html", testBaseURL, n)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "context timeout", err: context.DeadlineExceeded, expected: KindTimeout},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: KindTimeout},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: KindConnection},
		{name: "forbidden", statusCode: http.StatusForbidden, expected: KindForbidden},
		{name: "not found", statusCode: http.StatusNotFound, expected: KindNotFound},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: KindRateLimited},
		{name: "server error", statusCode: http.StatusBadGateway, expected: KindStatus},
		{name: "accepted is not ok", statusCode: http.StatusAccepted, expected: KindStatus},
		{name: "other", err: errors.New("some other error"), expected: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError("http://example.test/x", tt.err, tt.statusCode)
			if got == nil {
				t.Fatalf("classifyError returned nil")
			}
			if got.Kind != tt.expected {
				t.Fatalf("kind = %q, want %q", got.Kind, tt.expected)
			}
			if !errors.Is(got, ErrSourceUnavailable) {
				t.Fatalf("FetchError should match ErrSourceUnavailable")
			}
		})
	}

	if got := classifyError("http://example.test/x", nil, http.StatusOK); got != nil {
		t.Fatalf("200 without error should not classify, got %v", got)
	}
}

func TestExtractBook(t *testing.T) {
	html := `<article class="product_pod">
		<h3><a href="catalogue/a/index.html" title="  A Light in the Attic ">A Light...</a></h3>
		<p class="star-rating Three"></p>
		<div class="product_price"><p class="price_color"> &pound;51.77 </p></div>
	</article>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	got := extractBook(doc.Find(".product_pod").First())
	if got.Title != "  A Light in the Attic " {
		t.Fatalf("title=%q, want the raw attribute", got.Title)
	}
	if got.Price != "£51.77" {
		t.Fatalf("price=%q, want %q", got.Price, "£51.77")
	}
	if got.Rating != "Three" {
		t.Fatalf("rating=%q, want %q", got.Rating, "Three")
	}
}

func TestExtractBookMissingRating(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<article class="product_pod"><h3><a title="X">X</a></h3><p class="star-rating"></p></article>`))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	if got := extractBook(doc.Find(".product_pod")); got.Rating != "" || got.Price != "" {
		t.Fatalf("expected empty rating and price, got %+v", got)
	}
}

func TestCollectReturnsExactlyTarget(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), htmlResponder(buildCatalogPage(1, 20)))
	transport.RegisterResponder("GET", pageURL(2), htmlResponder(buildCatalogPage(2, 20)))
	transport.RegisterResponder("GET", pageURL(3), htmlResponder(buildCatalogPage(3, 20)))

	c := newTestCollector(t, transport)
	got := c.Collect(context.Background(), 25)

	if len(got.Books) != 25 {
		t.Fatalf("books=%d, want 25", len(got.Books))
	}
	if got.StopReason != StopTargetReached {
		t.Fatalf("stop reason=%q, want %q", got.StopReason, StopTargetReached)
	}
	if got.Pages != 2 {
		t.Fatalf("pages=%d, want 2", got.Pages)
	}
	if calls := transport.GetCallCountInfo()["GET "+pageURL(3)]; calls != 0 {
		t.Fatalf("page 3 fetched %d times, want 0", calls)
	}

	first, last := got.Books[0], got.Books[24]
	if first.Title != "Book 1" || first.Price != "£1.00" || first.Rating != "Two" {
		t.Fatalf("first book = %+v", first)
	}
	if last.Title != "Book 25" {
		t.Fatalf("encounter order broken, last title=%q", last.Title)
	}
	if v := testutil.ToFloat64(c.Metrics.ItemsCollectedTotal); v != 25 {
		t.Fatalf("items metric=%v, want 25", v)
	}
}

func TestCollectStopsAtEndOfCatalog(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), htmlResponder(buildCatalogPage(1, 20)))
	transport.RegisterResponder("GET", pageURL(2), htmlResponder(buildCatalogPage(2, 5)))
	transport.RegisterResponder("GET", pageURL(3), htmlResponder(buildCatalogPage(3, 0)))

	c := newTestCollector(t, transport)
	got := c.Collect(context.Background(), 100)

	if len(got.Books) != 25 {
		t.Fatalf("books=%d, want all 25 available", len(got.Books))
	}
	if got.StopReason != StopEndOfCatalog {
		t.Fatalf("stop reason=%q, want %q", got.StopReason, StopEndOfCatalog)
	}
}

func TestCollectStopsOnSourceUnavailable(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusNotFound, expected: KindNotFound},
		{status: http.StatusTooManyRequests, expected: KindRateLimited},
		{status: http.StatusInternalServerError, expected: KindStatus},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", pageURL(1), htmlResponder(buildCatalogPage(1, 20)))
			transport.RegisterResponder("GET", pageURL(2), httpmock.NewStringResponder(tt.status, ""))

			c := newTestCollector(t, transport)
			got := c.Collect(context.Background(), 50)

			if len(got.Books) != 20 {
				t.Fatalf("books=%d, want the 20 from page 1", len(got.Books))
			}
			if got.StopReason != StopSourceUnavailable {
				t.Fatalf("stop reason=%q, want %q", got.StopReason, StopSourceUnavailable)
			}
			if v := testutil.ToFloat64(c.Metrics.ErrorsTotal.WithLabelValues(tt.expected)); v != 1 {
				t.Fatalf("errors{%s}=%v, want 1", tt.expected, v)
			}
		})
	}
}

func TestCollectStopsOnNetworkError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), httpmock.NewErrorResponder(errors.New("connection reset")))

	c := newTestCollector(t, transport)
	got := c.Collect(context.Background(), 10)

	if len(got.Books) != 0 {
		t.Fatalf("books=%d, want 0", len(got.Books))
	}
	if got.StopReason != StopSourceUnavailable {
		t.Fatalf("stop reason=%q, want %q", got.StopReason, StopSourceUnavailable)
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("calls=%d, want a single attempt without retry", calls)
	}
}

func TestCollectNonPositiveTarget(t *testing.T) {
	transport := httpmock.NewMockTransport()
	c := newTestCollector(t, transport)

	for _, target := range []int{0, -5} {
		got := c.Collect(context.Background(), target)
		if len(got.Books) != 0 {
			t.Fatalf("target %d: books=%d, want 0", target, len(got.Books))
		}
	}
	if calls := transport.GetTotalCallCount(); calls != 0 {
		t.Fatalf("calls=%d, want no requests", calls)
	}
}

func TestCollectPageLimit(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), htmlResponder(buildCatalogPage(1, 20)))
	transport.RegisterResponder("GET", pageURL(2), htmlResponder(buildCatalogPage(2, 20)))

	c := newTestCollector(t, transport)
	c.cfg.MaxPages = 1
	got := c.Collect(context.Background(), 30)

	if len(got.Books) != 20 || got.StopReason != StopPageLimit {
		t.Fatalf("books=%d reason=%q, want 20 and %q", len(got.Books), got.StopReason, StopPageLimit)
	}
}

func TestCollectCanceled(t *testing.T) {
	transport := httpmock.NewMockTransport()
	c := newTestCollector(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := c.Collect(ctx, 10)

	if got.StopReason != StopCanceled {
		t.Fatalf("stop reason=%q, want %q", got.StopReason, StopCanceled)
	}
	if calls := transport.GetTotalCallCount(); calls != 0 {
		t.Fatalf("calls=%d, want none after cancel", calls)
	}
}

func TestCollectKeepsDuplicates(t *testing.T) {
	page := `<html><body>` + strings.Repeat(
		`<article class="product_pod"><h3><a title="Same">Same</a></h3><p class="star-rating One"></p><p class="price_color">£1.00</p></article>`, 3) +
		`</body></html>`
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), htmlResponder(page))
	transport.RegisterResponder("GET", pageURL(2), htmlResponder(buildCatalogPage(2, 0)))

	c := newTestCollector(t, transport)
	got := c.Collect(context.Background(), 10)

	if len(got.Books) != 3 {
		t.Fatalf("books=%d, want 3 including duplicates", len(got.Books))
	}
	if v := testutil.ToFloat64(c.Metrics.DuplicatesTotal); v != 2 {
		t.Fatalf("duplicates metric=%v, want 2", v)
	}
}

func TestCollectTwiceRevisitsPages(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), htmlResponder(buildCatalogPage(1, 20)))

	c := newTestCollector(t, transport)
	first := c.Collect(context.Background(), 10)
	second := c.Collect(context.Background(), 10)

	if len(first.Books) != 10 || len(second.Books) != 10 {
		t.Fatalf("books=%d/%d, want 10/10", len(first.Books), len(second.Books))
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func buildCatalogPage(page, items int) string {
	var builder strings.Builder
	builder.WriteString("<html><body><section><ol class=\"row\">")

	for i := 1; i <= items; i++ {
		id := (page-1)*20 + i
		builder.WriteString("<li><article class=\"product_pod\">")
		fmt.Fprintf(&builder, "<h3><a href=\"book-%d/index.html\" title=\"Book %d\">Book %d</a></h3>", id, id, id)
		builder.WriteString("<p class=\"star-rating Two\"></p>")
		fmt.Fprintf(&builder, "<div class=\"product_price\"><p class=\"price_color\">&pound;%0.2f</p></div>", float64(id))
		builder.WriteString("</article></li>")
	}

	builder.WriteString("</ol></section></body></html>")
	return builder.String()
}
