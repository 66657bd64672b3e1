package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	listingSectionSelector = "div.accordion.parbase.section"
	listingCopySelector    = "div.tsg-rwd-accordion-copy"
)

// ListDocuments returns the href of every bulletin link on the listing page, in
// page order. Only the first link container of each accordion section is read.
// Duplicates are kept. A page without sections yields an empty list.
func ListDocuments(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	links := []string{}
	doc.Find(listingSectionSelector).Each(func(_ int, section *goquery.Selection) {
		container := section.Find(listingCopySelector).First()
		if container.Length() == 0 {
			return
		}
		container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			links = append(links, href)
		})
	})
	return links, nil
}

// ListDocumentsFromURL fetches the listing page and lists its bulletin links.
func ListDocumentsFromURL(ctx context.Context, fetcher Fetcher, listingURL string) ([]string, error) {
	fetched, err := fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %s: %w", listingURL, err)
	}
	defer fetched.Body.Close()

	if fetched.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch listing page %s: status %d", listingURL, fetched.StatusCode)
	}
	return ListDocuments(fetched.Body)
}

// ResolveDocumentURL resolves a listing href against the site base URL.
// Absolute hrefs are returned unchanged.
func ResolveDocumentURL(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid document link %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
