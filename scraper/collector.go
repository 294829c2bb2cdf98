package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/books-etl/config"
	"github.com/aluiziolira/books-etl/models"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const duplicateWindow = 4096

// Why collection ended.
const (
	StopTargetReached     = "target_reached"
	StopSourceUnavailable = "source_unavailable"
	StopEndOfCatalog      = "end_of_catalog"
	StopPageLimit         = "page_limit"
	StopCanceled          = "canceled"
)

// Collection is the outcome of one Collect call.
type Collection struct {
	Books      []models.RawBook
	Pages      int
	StopReason string
}

// Collector walks the paginated catalogue one page at a time.
type Collector struct {
	cfg       *config.Config
	collector *colly.Collector
	seen      *lru.Cache[string, struct{}]
	Metrics   *Metrics
}

// NewCollector builds a collector configured from cfg. metrics may be nil.
func NewCollector(cfg *config.Config, metrics *Metrics) (*Collector, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	})

	seen, err := lru.New[string, struct{}](duplicateWindow)
	if err != nil {
		return nil, fmt.Errorf("create duplicate window: %w", err)
	}

	return &Collector{
		cfg:       cfg,
		collector: collector,
		seen:      seen,
		Metrics:   metrics,
	}, nil
}

// Collect fetches pages starting at 1 until target books are gathered. A
// failed fetch, an empty page, the page limit or a cancelled ctx end the
// walk early; whatever was gathered so far is returned.
func (c *Collector) Collect(ctx context.Context, target int) *Collection {
	out := &Collection{StopReason: StopTargetReached}
	if target <= 0 {
		return out
	}
	c.seen.Purge()

loop:
	for page := 1; len(out.Books) < target; page++ {
		if page > c.cfg.MaxPages {
			out.StopReason = StopPageLimit
			slog.Warn("page limit reached", slog.Int("max_pages", c.cfg.MaxPages))
			break
		}
		if err := ctx.Err(); err != nil {
			out.StopReason = StopCanceled
			slog.Warn("collection canceled", slog.Any("error", err))
			break
		}

		books, err := c.fetchPage(page, target-len(out.Books))
		var fetchErr *FetchError
		switch {
		case errors.As(err, &fetchErr):
			out.StopReason = StopSourceUnavailable
			c.Metrics.IncError(fetchErr.Kind)
			slog.Warn("failed to fetch page",
				slog.String("url", fetchErr.URL),
				slog.Int("status", fetchErr.Status),
				slog.String("category", fetchErr.Kind),
				slog.Any("error", fetchErr.Err),
			)
			break loop
		case errors.Is(err, ErrEndOfCatalog):
			out.StopReason = StopEndOfCatalog
			slog.Warn("no more books found", slog.String("url", c.cfg.PageURL(page)))
			break loop
		}

		out.Pages++
		out.Books = append(out.Books, books...)
		c.Metrics.incPages()
		c.Metrics.addItems(len(books))
		slog.Debug("page collected",
			slog.Int("page", page),
			slog.Int("items", len(books)),
			slog.Int("total", len(out.Books)),
		)
	}

	slog.Info("collected books",
		slog.Int("count", len(out.Books)),
		slog.Int("pages", out.Pages),
		slog.String("stop_reason", out.StopReason),
	)
	return out
}

// fetchPage returns at most limit books from catalogue page n.
func (c *Collector) fetchPage(n, limit int) ([]models.RawBook, error) {
	pageURL := c.cfg.PageURL(n)

	var (
		books      []models.RawBook
		containers int
		status     int
	)

	col := c.collector.Clone()
	col.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		c.Metrics.IncRequest("started")
	})
	col.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		c.Metrics.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			c.Metrics.ObserveDuration(time.Since(start))
		}
	})
	col.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		c.Metrics.IncRequest("failed")
	})
	col.OnHTML(".product_pod", func(e *colly.HTMLElement) {
		containers++
		if len(books) >= limit {
			return
		}
		book := extractBook(e.DOM)
		c.observe(book)
		books = append(books, book)
	})

	if err := col.Visit(pageURL); err != nil {
		return nil, classifyError(pageURL, err, status)
	}
	if status != http.StatusOK {
		return nil, classifyError(pageURL, nil, status)
	}
	if containers == 0 {
		return nil, ErrEndOfCatalog
	}
	return books, nil
}

// observe counts books already seen in this run. Duplicates are kept.
func (c *Collector) observe(book models.RawBook) {
	key := book.Title + "\x00" + book.Price + "\x00" + book.Rating
	if found, _ := c.seen.ContainsOrAdd(key, struct{}{}); found {
		c.Metrics.incDuplicate()
		slog.Debug("duplicate book on source page", slog.String("title", book.Title))
	}
}

func extractBook(sel *goquery.Selection) models.RawBook {
	title, _ := sel.Find("h3 a").First().Attr("title")
	price := strings.TrimSpace(sel.Find(".price_color").First().Text())

	rating := ""
	if class, ok := sel.Find("p.star-rating").First().Attr("class"); ok {
		if parts := strings.Fields(class); len(parts) > 1 {
			rating = parts[1]
		}
	}

	return models.RawBook{
		Title:  title,
		Price:  price,
		Rating: rating,
	}
}
