package proxy

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
)

// authExtensionURL identifies the STAC Authentication Extension schema this
// mutator publishes into `stac_extensions`.
const authExtensionURL = "https://stac-extensions.github.io/authentication/v1.1.0/schema.json"

// authExtensionPattern matches the STAC catalog/collection/item/search
// endpoints the Authentication Extension mutator decorates.
var authExtensionPattern = regexp.MustCompile(`^(/|/collections(/[^/]+(/items(/[^/]+)?)?)?|/search)$`)

// AuthExtensionMutator implements the STAC Authentication Extension:
// it publishes an `auth:schemes` entry describing the proxy's OIDC scheme
// and, for every embedded link that resolves to a private endpoint, marks
// that link with `auth:refs` naming the scheme required to follow it.
type AuthExtensionMutator struct {
	Discovery        *oidc.DiscoveryDocument
	OIDCDiscoveryURL string
	Classifier       *classifier.Classifier

	// UpstreamBase, when set, has its path stripped from link hrefs before
	// classification: links still carry upstream-shaped URLs at this point
	// (the link rewriter runs after this mutator), while the classifier's
	// patterns are written against the proxy's own path space.
	UpstreamBase *url.URL
}

func (m *AuthExtensionMutator) ShouldTransform(r *http.Request, header http.Header) bool {
	if !authExtensionPattern.MatchString(r.URL.Path) {
		return false
	}
	return isJSONContentType(header.Get("Content-Type"))
}

func (m *AuthExtensionMutator) Transform(value any, _ *http.Request) (any, error) {
	doc, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}

	addExtension(doc)
	doc["auth:schemes"] = map[string]any{
		SchemeName: m.schemeDescription(),
	}
	m.annotateLinks(doc)
	return doc, nil
}

func (m *AuthExtensionMutator) schemeDescription() map[string]any {
	scheme := map[string]any{
		"type":             "openIdConnect",
		"openIdConnectUrl": m.OIDCDiscoveryURL,
	}
	if m.Discovery != nil {
		flows := map[string]any{}
		if m.Discovery.AuthorizationEndpoint != "" {
			flows["authorizationUrl"] = m.Discovery.AuthorizationEndpoint
		}
		if m.Discovery.TokenEndpoint != "" {
			flows["tokenUrl"] = m.Discovery.TokenEndpoint
		}
		if len(flows) > 0 {
			scheme["flows"] = flows
		}
		if len(m.Discovery.ScopesSupported) > 0 {
			scheme["scopes"] = toAnySlice(m.Discovery.ScopesSupported)
		}
	}
	return scheme
}

func addExtension(doc map[string]any) {
	exts, _ := doc["stac_extensions"].([]any)
	for _, e := range exts {
		if s, ok := e.(string); ok && s == authExtensionURL {
			return
		}
	}
	doc["stac_extensions"] = append(exts, authExtensionURL)
}

// annotateLinks walks doc's links (and those embedded under features/
// collections, matching the link processor's traversal) and appends the
// scheme name to `auth:refs` on any link whose path classifies as private.
func (m *AuthExtensionMutator) annotateLinks(value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		if arr, ok := value.([]any); ok {
			for _, item := range arr {
				m.annotateLinks(item)
			}
		}
		return
	}

	if links, ok := obj["links"].([]any); ok {
		for _, l := range links {
			link, ok := l.(map[string]any)
			if !ok {
				continue
			}
			m.annotateLink(link)
		}
	}
	for _, key := range []string{"features", "collections"} {
		if children, ok := obj[key].([]any); ok {
			for _, child := range children {
				m.annotateLinks(child)
			}
		}
	}
}

func (m *AuthExtensionMutator) annotateLink(link map[string]any) {
	href, _ := link["href"].(string)
	if href == "" {
		return
	}
	method, _ := link["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(href)
	if err != nil {
		return
	}
	path := u.Path
	if m.UpstreamBase != nil {
		base := strings.TrimSuffix(m.UpstreamBase.Path, "/")
		if base != "" {
			if rest, ok := strings.CutPrefix(path, base); ok && (rest == "" || rest[0] == '/') {
				path = rest
			}
		}
	}
	if path == "" {
		path = "/"
	}
	match := m.Classifier.Classify(path, method)
	if !match.IsPrivate {
		return
	}

	refs, _ := link["auth:refs"].([]any)
	refs = append(refs, SchemeName)
	link["auth:refs"] = refs
}
