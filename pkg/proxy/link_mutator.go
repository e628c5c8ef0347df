package proxy

import (
	"net/http"
	"net/url"
	"strings"
)

// LinkMutator is the hyperlink rewriter: it walks every `links`
// array in a JSON response (including the ones nested under `features[*]`
// and `collections[*]`), rewrites any href whose host matches either the
// upstream or the client-visible host to the client-visible host, and
// optionally prepends a configured root path. Hosts matching neither are
// left untouched — the response may legitimately link elsewhere.
type LinkMutator struct {
	// UpstreamBase is the upstream STAC API base URL; its host is one of
	// the two hosts eligible for rewriting.
	UpstreamBase *url.URL

	// RootPath, if non-empty, is prepended to every rewritten path.
	RootPath string
}

func (m *LinkMutator) ShouldTransform(_ *http.Request, header http.Header) bool {
	return isJSONContentType(header.Get("Content-Type"))
}

func (m *LinkMutator) Transform(value any, r *http.Request) (any, error) {
	clientBase, err := url.Parse(BaseURL(r))
	if err != nil {
		return value, nil
	}
	rw := &linkRewriter{
		upstreamHost: m.UpstreamBase.Host,
		upstreamPath: strings.TrimSuffix(m.UpstreamBase.Path, "/"),
		clientHost:   clientBase.Host,
		clientScheme: clientBase.Scheme,
		rootPath:     strings.TrimSuffix(m.RootPath, "/"),
	}
	rw.walk(value)
	return value, nil
}

// linkRewriter carries the per-request rewrite target (client host/scheme,
// upstream host to match against) while walking a parsed JSON document.
type linkRewriter struct {
	upstreamHost string
	upstreamPath string
	clientHost   string
	clientScheme string
	rootPath     string
}

// walk mutates value's `links` arrays in place, plus the `links` array
// nested under any `features` or `collections` entries — the two places the
// STAC API embeds child resources with their own link sets.
func (rw *linkRewriter) walk(value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		if arr, ok := value.([]any); ok {
			for _, item := range arr {
				rw.walk(item)
			}
		}
		return
	}

	if links, ok := obj["links"].([]any); ok {
		rw.rewriteLinks(links)
	}
	for _, key := range []string{"features", "collections"} {
		if children, ok := obj[key].([]any); ok {
			for _, child := range children {
				rw.walk(child)
			}
		}
	}
}

func (rw *linkRewriter) rewriteLinks(links []any) {
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		href, ok := link["href"].(string)
		if !ok || href == "" {
			continue
		}
		if rewritten, ok := rw.rewriteHref(href); ok {
			link["href"] = rewritten
		}
	}
}

// rewriteHref rewrites href's host to the client-visible one, strips the
// upstream base path, and prepends rootPath — iff href's host is the
// upstream host or already the client host; any other host is left alone.
// A link that has already been rewritten passes through unchanged, so
// rewriting is idempotent.
func (rw *linkRewriter) rewriteHref(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return href, false
	}
	if u.Host != rw.upstreamHost && u.Host != rw.clientHost {
		return href, false
	}

	path := u.Path
	if rw.upstreamPath != "" {
		if rest, ok := strings.CutPrefix(path, rw.upstreamPath); ok && (rest == "" || rest[0] == '/') {
			path = rest
		}
	}
	if path == "" {
		path = "/"
	}
	if rw.rootPath != "" && path != rw.rootPath && !strings.HasPrefix(path, rw.rootPath+"/") {
		path = rw.rootPath + path
	}

	u.Scheme = rw.clientScheme
	u.Host = rw.clientHost
	u.Path = path
	u.RawPath = ""
	return elideStandardPort(u), true
}

// elideStandardPort renders u as a string with the default port for its
// scheme (80 for http, 443 for https) omitted from the netloc, matching the
// usual convention for canonical URLs.
func elideStandardPort(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		clone := *u
		clone.Host = host
		return clone.String()
	}
	return u.String()
}
