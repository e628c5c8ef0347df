package filter

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
)

// templateBuilder renders a text/template against the request context and
// parses the rendered text as CQL2. It is parsed once at construction with
// no functions beyond the engine's built-ins registered, so templates have
// no path to the filesystem or network — the same capability boundary the
// CEL builder enforces by omission.
type templateBuilder struct {
	tmpl *template.Template
}

// templateData is the shape exposed to filter templates, mirroring the
// filter builder contract's (req, claims, oidc_metadata) context.
type templateData struct {
	Req          templateReq
	Claims       map[string]any
	OIDCMetadata map[string]any
}

type templateReq struct {
	Path       string
	Method     string
	Query      map[string]string
	PathParams map[string]string
	Body       string
}

// newTemplateBuilder builds a templateBuilder from its descriptor args:
//   - "template" (string, required): the text/template source, expected to
//     render a CQL2-text predicate (or empty/whitespace for "no restriction").
func newTemplateBuilder(args map[string]any) (Builder, error) {
	src, _ := args["template"].(string)
	if src == "" {
		return nil, fmt.Errorf("template filter: template is required")
	}

	tmpl, err := template.New("filter").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("template filter: failed to parse template: %w", err)
	}

	return &templateBuilder{tmpl: tmpl}, nil
}

func (b *templateBuilder) Build(rc RequestContext) (cql2.Expression, error) {
	data := templateData{
		Req: templateReq{
			Path:       rc.Path,
			Method:     rc.Method,
			Query:      flattenQuery(rc.Query),
			PathParams: rc.PathParams,
			Body:       string(rc.Body),
		},
		Claims:       rc.Claims,
		OIDCMetadata: oidcMetadataFields(rc.OIDCMetadata),
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return cql2.Expression{}, fmt.Errorf("template filter: failed to render: %w", err)
	}

	rendered := buf.String()
	if isBlank(rendered) {
		return cql2.Expression{}, nil
	}
	return cql2.ParseText(rendered)
}

func flattenQuery(q map[string][]string) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func oidcMetadataFields(doc *oidc.DiscoveryDocument) map[string]any {
	m, _ := oidcMetadataToCEL(doc).(map[string]any)
	return m
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
