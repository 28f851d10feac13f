package discovery

import (
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

var dateTokenRe = regexp.MustCompile(`\d{8}`)

// ExtractLinks returns the href of every anchor matching pattern, in
// document order.
func ExtractLinks(r io.Reader, pattern *regexp.Regexp) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse listing html")
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href != "" && pattern.MatchString(href) {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

// LinkDate parses the YYYYMMDD token inside the part of href matched by
// pattern. ok is false when the token is missing or not a calendar date.
func LinkDate(href string, pattern *regexp.Regexp) (time.Time, bool) {
	m := pattern.FindString(href)
	tok := dateTokenRe.FindString(m)
	if tok == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("20060102", tok)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// PageURL returns the listing URL for 1-based page n. Page 1 is base
// itself; later pages add the page query parameter.
func PageURL(base string, n int) (string, error) {
	if n <= 1 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: parse base url %q", base)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
