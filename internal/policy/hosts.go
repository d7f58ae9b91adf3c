// Copyright 2025 Tom Barlow
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


package policy

import (
	"fmt"
	"net"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// matchesHostPattern reports whether hostname matches pattern.
// Supports:
// - Exact match: "api.example.com"
// - Wildcard: "*.example.com"
// - CIDR notation: "192.168.1.0/24"
// - IP address: "192.168.1.1"
func matchesHostPattern(hostname, pattern string) bool {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	pattern = strings.ToLower(pattern)

	if strings.Contains(pattern, "/") {
		return matchesCIDR(hostname, pattern)
	}

	if strings.Contains(pattern, "*") {
		// *.example.com -> **.example.com for doublestar
		globPattern := strings.ReplaceAll(pattern, "*", "**")
		matched, err := doublestar.Match(globPattern, hostname)
		return err == nil && matched
	}

	return hostname == pattern
}

func matchesAnyHost(hostname string, patterns []string) bool {
	for _, p := range patterns {
		if matchesHostPattern(hostname, p) {
			return true
		}
	}
	return false
}

func matchesCIDR(hostname, cidr string) bool {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	// Only IP literals match; names are not resolved here.
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ipNet.Contains(ip)
}

func validateHostPattern(p string) error {
	if p == "" {
		return fmt.Errorf("empty host pattern")
	}
	if strings.Contains(p, "/") {
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", p, err)
		}
		return nil
	}
	if !doublestar.ValidatePattern(strings.ReplaceAll(p, "*", "**")) {
		return fmt.Errorf("invalid host pattern %q", p)
	}
	return nil
}

// isPrivateOrLocalIP checks if an IP is private, loopback, or link-local.
func isPrivateOrLocalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() || ip.IsUnspecified()
}

var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("fd00:ec2::254"),
}

// isMetadataIP checks if an IP is a cloud metadata service.
func isMetadataIP(ip net.IP) bool {
	for _, m := range metadataIPs {
		if m.Equal(ip) {
			return true
		}
	}
	return false
}
