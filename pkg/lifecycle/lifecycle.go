// Package lifecycle runs the proxy's startup checks: waiting for the
// upstream to become reachable and, optionally, verifying it advertises
// the conformance classes the configured middleware require. Either check
// failing aborts startup.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/stac-auth-proxy/pkg/logger"
	"github.com/stacklok/stac-auth-proxy/pkg/networking"
)

// Config configures Run.
type Config struct {
	// UpstreamURL is probed for a 2xx response before the proxy starts
	// serving, when WaitForUpstream is true.
	UpstreamURL string

	// WaitForUpstream enables the startup reachability probe.
	WaitForUpstream bool

	// CheckConformance enables fetching upstream's /conformance document
	// and checking it against RequiredConformanceClasses.
	CheckConformance bool

	// RequiredConformanceClasses lists the regexes each configured
	// middleware declares as required; every one must match at least one
	// class the upstream advertises.
	RequiredConformanceClasses []*regexp.Regexp

	// Client performs the probe and conformance fetch.
	Client *http.Client

	// Timeout bounds each individual probe/fetch attempt. Defaults to 5s.
	Timeout time.Duration

	// InitialInterval, MaxInterval and MaxRetries bound the exponential
	// backoff used while probing the upstream. Defaults: 1s, 5s, 10.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint
}

// conformanceResponse is the subset of the STAC /conformance document the
// proxy inspects.
type conformanceResponse struct {
	ConformsTo []string `json:"conformsTo"`
}

// Run executes the configured startup checks in order: upstream
// reachability, then conformance. A failure in either returns a non-nil
// error, which the caller should treat as a fatal startup failure
// (non-zero exit code).
func Run(ctx context.Context, cfg Config) error {
	if cfg.WaitForUpstream {
		if err := waitForUpstream(ctx, cfg); err != nil {
			return fmt.Errorf("lifecycle: upstream did not become reachable: %w", err)
		}
	}
	if cfg.CheckConformance {
		if err := checkConformance(ctx, cfg); err != nil {
			return fmt.Errorf("lifecycle: conformance check failed: %w", err)
		}
	}
	return nil
}

func waitForUpstream(ctx context.Context, cfg Config) error {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = cfg.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = 5 * time.Second
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		ok, err := probeUpstream(probeCtx, cfg.Client, cfg.UpstreamURL)
		if err != nil {
			logger.Warnf("lifecycle: upstream probe attempt %d failed: %v", attempt, err)
			return struct{}{}, err
		}
		if !ok {
			logger.Warnf("lifecycle: upstream probe attempt %d got a non-2xx response", attempt)
			return struct{}{}, fmt.Errorf("upstream returned a non-2xx response")
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetries))

	return err
}

func probeUpstream(ctx context.Context, client *http.Client, upstreamURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func checkConformance(ctx context.Context, cfg Config) error {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conformanceURL := cfg.UpstreamURL
	if len(conformanceURL) > 0 && conformanceURL[len(conformanceURL)-1] != '/' {
		conformanceURL += "/"
	}
	conformanceURL += "conformance"

	result, err := networking.FetchJSON[conformanceResponse](fetchCtx, cfg.Client, conformanceURL)
	if err != nil {
		return fmt.Errorf("failed to fetch conformance document: %w", err)
	}
	doc := result.Data

	var unsatisfied []string
	for _, required := range cfg.RequiredConformanceClasses {
		if !anyClassMatches(required, doc.ConformsTo) {
			unsatisfied = append(unsatisfied, required.String())
		}
	}
	if len(unsatisfied) > 0 {
		return fmt.Errorf("upstream does not advertise required conformance classes: %v", unsatisfied)
	}
	return nil
}

func anyClassMatches(required *regexp.Regexp, classes []string) bool {
	for _, c := range classes {
		if required.MatchString(c) {
			return true
		}
	}
	return false
}
