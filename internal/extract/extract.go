// Package extract turns deal listing pages into crawler records using goquery
// selector cascades.
package extract

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

// Config bounds extraction work per page.
type Config struct {
	DealsPerPage int
	RawHTMLLimit int
}

// Extractor parses listing pages.
type Extractor struct {
	cfg Config
	now func() time.Time
}

// New builds an Extractor; zero limits fall back to 50 deals and 5000 bytes.
func New(cfg Config) *Extractor {
	if cfg.DealsPerPage <= 0 {
		cfg.DealsPerPage = 50
	}
	if cfg.RawHTMLLimit <= 0 {
		cfg.RawHTMLLimit = 5000
	}
	return &Extractor{cfg: cfg, now: time.Now}
}

// Element cascade, most specific first. The first selector producing at least
// one deal wins.
var dealSelectors = []string{
	".deal-card", ".deal-tile", ".card-deal", ".deal",
	".offer-item", "article[data-deal-id]", `article[class*="deal"]`,
	"article", `[class*="deal"]`, `[class*="offer"]`, `[class*="coupon"]`,
	".item", ".product-card",
}

const paginationSelector = ".pagination a[href], .pager a[href], .next[href]"

// Extract returns the page's records and the pagination links to follow.
func (x *Extractor) Extract(pageURL string, body []byte) (iter.Seq[crawler.Record], []string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	deals := x.findDeals(doc, base)
	page := pageContext{
		url:      pageURL,
		category: categoryFromURL(pageURL),
		rawHTML:  truncateUTF8(string(body), x.cfg.RawHTMLLimit),
		source:   body,
		fetched:  x.now().UTC(),
	}
	return records(deals, page), paginationLinks(doc, base), nil
}

type pageContext struct {
	url      string
	category string
	rawHTML  string
	source   []byte
	fetched  time.Time
}

func records(deals []rawDeal, page pageContext) iter.Seq[crawler.Record] {
	return func(yield func(crawler.Record) bool) {
		for _, d := range deals {
			deal := d.deal
			deal.Category = page.category
			deal.RawHTML = page.rawHTML
			deal.PageURL = page.url
			deal.FetchedAt = page.fetched
			deal.Source = page.source
			if !yield(deal) {
				return
			}
			for _, img := range d.images {
				if !yield(crawler.ImageRecord{DealID: deal.DealID, ImageURL: img}) {
					return
				}
			}
			for _, c := range d.categories {
				c.DealID = deal.DealID
				if !yield(c) {
					return
				}
			}
			for _, rel := range d.related {
				if !yield(crawler.RelatedRecord{DealID: deal.DealID, RelatedURL: rel}) {
					return
				}
			}
		}
	}
}

func (x *Extractor) findDeals(doc *goquery.Document, base *url.URL) []rawDeal {
	for _, sel := range dealSelectors {
		elements := doc.Find(sel)
		if elements.Length() == 0 {
			continue
		}
		if deals := x.collect(elements, base); len(deals) > 0 {
			return deals
		}
	}
	// Last resort: any link that mentions a price.
	fallback := doc.Find(`a:contains("$")`).AddSelection(doc.Find(`[class*="price"] a`))
	return x.collect(fallback, base)
}

func (x *Extractor) collect(elements *goquery.Selection, base *url.URL) []rawDeal {
	var deals []rawDeal
	elements.EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= x.cfg.DealsPerPage {
			return false
		}
		if d, ok := extractDeal(el, base); ok {
			deals = append(deals, d)
		}
		return true
	})
	return deals
}

func paginationLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := map[string]bool{}
	doc.Find(paginationSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := resolve(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

var urlCategories = []struct {
	fragment string
	category string
}{
	{"/online-stores/", "stores"},
	{"/c/electronics/", "electronics"},
	{"/c/clothing/", "clothing"},
	{"/c/home-garden/", "home"},
	{"/c/computers/", "computers"},
	{"/categories/", "categories"},
}

func categoryFromURL(pageURL string) string {
	for _, c := range urlCategories {
		if strings.Contains(pageURL, c.fragment) {
			return c.category
		}
	}
	return "general"
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
