// Package filename maps remote bulletin links to date-prefixed local file
// names and back.
package filename

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the date prefix format of every local file name.
const DateLayout = "2006-01-02"

var isoDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Encode returns "{YYYY-MM-DD}_{basename}" where basename is the last path
// element of href with query and fragment removed.
func Encode(href string, date time.Time) string {
	return date.Format(DateLayout) + "_" + baseName(href)
}

// Decode extracts the first valid YYYY-MM-DD date from a local file name.
// ok is false when the name carries no date; callers must skip such files
// rather than substitute the current date.
func Decode(name string) (date time.Time, ok bool) {
	for _, m := range isoDateRe.FindAllString(path.Base(name), -1) {
		d, err := time.Parse(DateLayout, m)
		if err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func baseName(href string) string {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(href, "?#"); i >= 0 {
		p = href[:i]
	}
	return path.Base(p)
}
