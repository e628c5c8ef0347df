// Package app wires the proxy's configuration, classifier, token validator,
// filter registry, and middleware chain into a running HTTP server. main()
// stays a thin caller of Run so the wiring itself is testable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/stac-auth-proxy/pkg/auth"
	"github.com/stacklok/stac-auth-proxy/pkg/auth/middleware"
	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/auth/token"
	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
	"github.com/stacklok/stac-auth-proxy/pkg/config"
	"github.com/stacklok/stac-auth-proxy/pkg/filter"
	"github.com/stacklok/stac-auth-proxy/pkg/lifecycle"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
	"github.com/stacklok/stac-auth-proxy/pkg/proxy"
)

const readHeaderTimeout = 10 * time.Second

// Run loads configuration from the environment (and --port), assembles the
// full request pipeline, runs the lifecycle startup checks, and serves until
// ctx is cancelled (typically by a SIGINT/SIGTERM the caller has arranged to
// deliver into ctx).
func Run(ctx context.Context) error {
	v := viper.New()

	pflag.String("port", "8080", "port to listen on")
	pflag.Parse()
	if err := v.BindPFlag("port", pflag.Lookup("port")); err != nil {
		return fmt.Errorf("failed to bind --port flag: %w", err)
	}

	settings, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	upstream, err := url.Parse(settings.UpstreamURL)
	if err != nil {
		return fmt.Errorf("config: invalid UPSTREAM_URL: %w", err)
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, discoveryTimeout(settings))
	discovery, err := oidc.Discover(discoveryCtx, settings.OIDCDiscoveryURL, settings.OIDCDiscoveryInternalURL)
	cancel()
	if err != nil {
		return fmt.Errorf("oidc discovery: %w", err)
	}

	classifierInstance, err := buildClassifier(settings)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	validator, err := token.NewValidator(ctx, token.ValidatorConfig{
		Issuer:               discovery.Issuer,
		AllowedAudiences:     settings.AllowedJWTAudiences,
		JWKSURL:              discovery.JWKSURI,
		DiscoveryInternalURL: settings.OIDCDiscoveryInternalURL,
		ResourceURL:          settings.ResourceURL,
	})
	if err != nil {
		return fmt.Errorf("token validator: %w", err)
	}

	itemsBuilder, collectionsBuilder, err := buildFilters(settings)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// The upstream client deliberately bypasses networking.HttpClientBuilder:
	// that builder's ValidatingTransport requires HTTPS, which fits
	// internet-facing OIDC providers but not a plaintext in-cluster STAC API.
	upstreamClient := &http.Client{Timeout: settings.UpstreamTimeout}

	handler := buildHandler(settings, upstream, upstreamClient, discovery, classifierInstance, validator, itemsBuilder, collectionsBuilder)

	filtering := itemsBuilder != nil || collectionsBuilder != nil
	if err := lifecycle.Run(ctx, lifecycle.Config{
		UpstreamURL:                settings.UpstreamURL,
		WaitForUpstream:            settings.WaitForUpstream,
		CheckConformance:           settings.CheckConformance,
		RequiredConformanceClasses: proxy.RequiredConformanceClasses(filtering, filtering),
		Client:                     upstreamClient,
	}); err != nil {
		return err
	}

	return serve(ctx, ":"+v.GetString("port"), handler)
}

func discoveryTimeout(settings *config.Settings) time.Duration {
	if settings.DiscoveryTimeout > 0 {
		return settings.DiscoveryTimeout
	}
	return oidc.DiscoveryTimeout
}

func buildClassifier(settings *config.Settings) (*classifier.Classifier, error) {
	public, err := config.ParseEndpointRules(settings.PublicEndpoints)
	if err != nil {
		return nil, fmt.Errorf("PUBLIC_ENDPOINTS: %w", err)
	}
	private, err := config.ParseEndpointRules(settings.PrivateEndpoints)
	if err != nil {
		return nil, fmt.Errorf("PRIVATE_ENDPOINTS: %w", err)
	}
	return classifier.New(public, private, settings.DefaultPublic), nil
}

func buildFilters(settings *config.Settings) (items, collections filter.Builder, err error) {
	registry := filter.NewRegistry()

	itemsDescriptor, err := config.ParseFilterDescriptor(settings.ItemsFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("ITEMS_FILTER: %w", err)
	}
	if itemsDescriptor != nil {
		if items, err = registry.Build(*itemsDescriptor); err != nil {
			return nil, nil, fmt.Errorf("ITEMS_FILTER: %w", err)
		}
	}

	collectionsDescriptor, err := config.ParseFilterDescriptor(settings.CollectionsFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("COLLECTIONS_FILTER: %w", err)
	}
	if collectionsDescriptor != nil {
		if collections, err = registry.Build(*collectionsDescriptor); err != nil {
			return nil, nil, fmt.Errorf("COLLECTIONS_FILTER: %w", err)
		}
	}

	return items, collections, nil
}

// buildHandler assembles the ordered middleware chain: base-path
// strip, auth-enforce, filter-build, filter-apply, transaction-validate,
// reverse-proxy. The OpenAPI/auth-extension/link mutators run as part of the
// reverse-proxy's response handling rather than as separate middleware — see
// ReverseProxyConfig.Mutators — which is how this order stays consistent
// with the response traversing the same stages in reverse.
func buildHandler(
	settings *config.Settings,
	upstream *url.URL,
	upstreamClient *http.Client,
	discovery *oidc.DiscoveryDocument,
	classifierInstance *classifier.Classifier,
	validator *token.Validator,
	itemsBuilder, collectionsBuilder filter.Builder,
) http.Handler {
	routes := proxy.BuildFilterRoutes(itemsBuilder, collectionsBuilder)

	mutators := []proxy.Mutator{
		&proxy.OpenAPIMutator{
			SpecPath:         settings.OpenAPISpecEndpoint,
			OIDCDiscoveryURL: settings.OIDCDiscoveryURL,
			Classifier:       classifierInstance,
		},
		&proxy.AuthExtensionMutator{
			Discovery:        discovery,
			OIDCDiscoveryURL: settings.OIDCDiscoveryURL,
			Classifier:       classifierInstance,
			UpstreamBase:     upstream,
		},
		&proxy.LinkMutator{
			UpstreamBase: upstream,
			RootPath:     settings.RootPath,
		},
	}

	reverseProxy := proxy.NewReverseProxy(proxy.ReverseProxyConfig{
		Upstream:  upstream,
		ProxyName: "stac-auth-proxy",
		Timeout:   settings.UpstreamTimeout,
		Mutators:  mutators,
	})

	chain := proxy.ValidateTransaction(proxy.TransactionValidatorConfig{
		Patterns: proxy.DefaultTransactionPatterns(),
		Upstream: upstream,
		Client:   upstreamClient,
	})(reverseProxy)
	chain = proxy.ApplyFilter(proxy.DefaultFilterApplyConfig())(chain)
	chain = proxy.BuildFilter(routes, discovery)(chain)
	chain = middleware.RequireAuth(validator, classifierInstance)(chain)
	chain = proxy.StripBasePath(settings.BasePath)(chain)
	chain = proxy.CORS(settings.CORS)(chain)
	chain = proxy.WithRequestState(chain)
	chain = proxy.AccessLog(chain)

	r := chi.NewRouter()
	r.Mount(settings.HealthzPrefix, healthzRouter())
	wellKnown := auth.NewWellKnownHandler(middleware.NewAuthInfoHandler(
		discovery.Issuer, validator.JWKSURL(), settings.ResourceURL, discovery.ScopesSupported,
	))
	r.Mount(auth.WellKnownOAuthResourcePath, wellKnown)
	r.Mount("/", chain)

	return r
}

func healthzRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// serve starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests before returning.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infof("starting http server on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("http server stopped")
	return nil
}

// NotifyContext wraps signal.NotifyContext so main can keep its import list
// minimal; split out mainly so tests can stub signal delivery if needed.
func NotifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
