package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

// A field is a selector cascade plus the test a candidate value must pass.
// Selectors ending in @attr read that attribute instead of the text.
type field struct {
	selectors []string
	accept    func(string) bool
}

func longerThan(n int) func(string) bool {
	return func(v string) bool { return len(v) > n }
}

func containsAny(needles ...string) func(string) bool {
	return func(v string) bool {
		lower := strings.ToLower(v)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

var (
	urlField = field{
		selectors: []string{"a@href", ".deal-link@href", ".offer-link@href", "[href]@href"},
		accept:    func(v string) bool { return !strings.HasPrefix(v, "#") && len(v) > 10 },
	}
	titleField = field{
		selectors: []string{
			"h1", "h2", "h3", "h4", ".title", ".deal-title", ".offer-title",
			"a[title]@title", "a", `[class*="title"]`,
		},
		accept: longerThan(5),
	}
	priceField = field{
		selectors: []string{
			".price", ".deal-price", ".offer-price", `[class*="price"]`, ".amount",
			`[class*="cost"]`, `[class*="amount"]`,
		},
		accept: containsAny("$", "free", "%"),
	}
	promoField = field{
		selectors: []string{".promo", ".coupon", ".code", `[class*="promo"]`, `[class*="coupon"]`, `[class*="code"]`},
		accept:    longerThan(2),
	}
	storeField = field{
		selectors: []string{
			".store", ".vendor", ".retailer", `[class*="store"]`, `[class*="vendor"]`,
			".brand", `[class*="brand"]`,
		},
		accept: longerThan(2),
	}
	discountField = field{
		selectors: []string{
			".deal", ".discount", ".savings", `[class*="deal"]`, `[class*="discount"]`,
			`[class*="offer"]`, `[class*="savings"]`,
		},
		accept: containsAny("%", "off"),
	}
	dealPlusField = field{
		selectors: []string{".dealplus", ".bonus", ".extra", `[class*="shipping"]`, `[class*="bonus"]`},
		accept:    containsAny("free", "shipping"),
	}
	publishedField = field{
		selectors: []string{
			".published", ".date", ".timestamp", `[class*="published"]`,
			`[class*="date"]`, `[class*="time"]`,
		},
		accept: containsAny("hr", "day", "ago"),
	}
	popularityField = field{
		selectors: []string{".popularity", ".rating", ".score", `[class*="popularity"]`, `[class*="rating"]`},
		accept:    containsAny("/", "star"),
	}
	staffPickField = field{
		selectors: []string{".staffpick", ".featured", ".recommended", `[class*="staff"]`, `[class*="pick"]`},
		accept:    longerThan(2),
	}
	detailField = field{
		selectors: []string{".detail", ".description", ".content", `[class*="detail"]`, `[class*="description"]`},
		accept:    longerThan(20),
	}
)

const (
	dealLinkSelector = `a[href*="shop"], a[href*="buy"], a[href*="deal"]`
	categorySelector = `[class*="category"], [class*="tag"], .breadcrumb a`
	relatedSelector  = `.related a[href], .similar a[href], [class*="related"] a[href]`
	imageSelector    = "img"
)

// rawDeal is a deal and its satellites before page-level fields are applied.
type rawDeal struct {
	deal       crawler.DealRecord
	images     []string
	categories []crawler.CategoryRecord
	related    []string
}

// find matches el itself as well as its descendants.
func find(el *goquery.Selection, css string) *goquery.Selection {
	return el.Filter(css).AddSelection(el.Find(css))
}

// first returns the first cascade value that passes the field's test. Only the
// first element matched by each selector is considered.
func (f field) first(el *goquery.Selection) string {
	for _, sel := range f.selectors {
		css, attr, hasAttr := strings.Cut(sel, "@")
		match := find(el, css).First()
		if match.Length() == 0 {
			continue
		}
		var v string
		if hasAttr {
			v = match.AttrOr(attr, "")
		} else {
			v = ownText(match)
		}
		if v = strings.TrimSpace(v); v != "" && f.accept(v) {
			return v
		}
	}
	return ""
}

// ownText joins the element's direct text nodes, ignoring descendants.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if n := c.Get(0); n != nil && n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

func extractDeal(el *goquery.Selection, base *url.URL) (rawDeal, bool) {
	var d crawler.DealRecord
	if href := urlField.first(el); href != "" {
		d.URL = resolve(base, href)
		if u, err := url.Parse(d.URL); err == nil {
			q := u.Query()
			d.DealID = q.Get("dealid")
			d.RecID = q.Get("recid")
		}
	}
	d.Title = titleField.first(el)
	d.Price = priceField.first(el)
	d.Promo = promoField.first(el)
	d.Store = storeField.first(el)
	if d.Store == "" &&
		(strings.Contains(strings.ToLower(d.Title), "amazon") || strings.Contains(strings.ToLower(d.URL), "amazon")) {
		d.Store = "Amazon"
	}
	d.Deal = discountField.first(el)
	d.DealPlus = dealPlusField.first(el)
	if link := find(el, dealLinkSelector).First(); link.Length() > 0 {
		d.DealLink = link.AttrOr("href", "")
		d.DealText = strings.TrimSpace(ownText(link))
		d.DealHover = link.AttrOr("title", "")
	}
	d.Published = publishedField.first(el)
	d.Popularity = popularityField.first(el)
	d.StaffPick = staffPickField.first(el)
	d.Detail = detailField.first(el)

	if len(d.Title) <= 10 && (d.Price == "" || d.URL == "") {
		return rawDeal{}, false
	}
	return rawDeal{
		deal:       d,
		images:     images(el, base),
		categories: categories(el),
		related:    hrefs(find(el, relatedSelector), base),
	}, true
}

func images(el *goquery.Selection, base *url.URL) []string {
	var out []string
	seen := map[string]bool{}
	find(el, imageSelector).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src"} {
			src := strings.TrimSpace(img.AttrOr(attr, ""))
			if src == "" || strings.HasPrefix(src, "data:") {
				continue
			}
			if abs := resolve(base, src); abs != "" && !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	})
	return out
}

func categories(el *goquery.Selection) []crawler.CategoryRecord {
	var out []crawler.CategoryRecord
	find(el, categorySelector).Each(func(_ int, c *goquery.Selection) {
		name := strings.TrimSpace(ownText(c))
		if name == "" {
			return
		}
		out = append(out, crawler.CategoryRecord{
			Name:  name,
			URL:   c.AttrOr("href", ""),
			Title: c.AttrOr("title", ""),
		})
	})
	return out
}

func hrefs(sel *goquery.Selection, base *url.URL) []string {
	var out []string
	seen := map[string]bool{}
	sel.Each(func(_ int, s *goquery.Selection) {
		if abs := resolve(base, s.AttrOr("href", "")); abs != "" && !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	})
	return out
}
