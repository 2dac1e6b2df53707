package connector

import (
	"net/http"
	"net/url"
	"strings"
)

// Paginated connectors surface continuation state under this key in their
// Invoke output. Callers treat an absent or empty value as "final page".
const NextCursorField = "nextCursor"

// ODataNextCursor normalizes an OData continuation link (Dataverse,
// Power BI) into a cursor: the $skiptoken query value, URL-unescaped, when the
// link carries one, otherwise the raw link itself so the caller can still
// continue from it. Returns "" for an empty link, meaning final page.
func ODataNextCursor(nextLink string) string {
	if nextLink == "" {
		return ""
	}
	u, err := url.Parse(nextLink)
	if err != nil {
		return nextLink
	}
	for key, vals := range u.Query() {
		if strings.EqualFold(key, "$skiptoken") && len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return nextLink
}

// LinkHeaderNext extracts the continuation cursor from an RFC 5988 Link
// header's rel="next" entry, the convention Okta uses: the next-page URL's
// "after" query parameter is the cursor. Returns "" when no next link is
// present.
func LinkHeaderNext(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			if !strings.Contains(part, `rel="next"`) {
				continue
			}
			start := strings.Index(part, "<")
			end := strings.Index(part, ">")
			if start < 0 || end <= start {
				continue
			}
			u, err := url.Parse(part[start+1 : end])
			if err != nil {
				continue
			}
			if after := u.Query().Get("after"); after != "" {
				return after
			}
			return part[start+1 : end]
		}
	}
	return ""
}
