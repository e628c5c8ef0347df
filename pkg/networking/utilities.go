// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package networking

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IsLocalhost reports whether host (as found in a URL's Host field, so it may
// carry a ":port" suffix) names the local machine. The check is a prefix
// match, not a parse: a malformed port suffix after a recognized host still
// counts as localhost.
func IsLocalhost(host string) bool {
	for _, prefix := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == prefix || strings.HasPrefix(host, prefix+":") {
			return true
		}
	}
	return false
}

// IsURL reports whether s parses as an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// IsRemoteURL reports whether s is a valid http(s) URL that does not resolve
// to the local machine. Private and link-local addresses count as remote:
// the proxy's own deployment commonly places the OIDC provider or upstream on
// a private network.
func IsRemoteURL(s string) bool {
	if !IsURL(s) {
		return false
	}
	u, _ := url.Parse(s)
	host := u.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// ValidateEndpointURL ensures an OIDC-discovered endpoint URL is a sane
// absolute http(s) URL, rejecting anything else before the proxy ever dials
// it.
func ValidateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
