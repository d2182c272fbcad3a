// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package preview detects HTTP servers announced in session output.
//
// Detection is a pure function over a text chunk and the owning session's
// port mapping, so the pattern table can be tested without any process
// plumbing. The first matching pattern in a chunk wins; a chunk never
// produces more than one preview.
package preview

import (
	"fmt"
	"regexp"
	"strconv"
)

// Preview describes a detected, externally reachable HTTP server.
type Preview struct {
	AnnouncedPort int    // the port the program printed
	HostPort      int    // the externally reachable host port
	URL           string
}

// patterns recognize "server listening/available at host:PORT" style
// output from common dev servers. Ordered by specificity.
var patterns = []*regexp.Regexp{
	// http://localhost:3000, https://127.0.0.1:8080/
	regexp.MustCompile(`(?i)https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d{2,5})`),
	// "listening on 0.0.0.0:8000", "server running on port 3000",
	// "app available at localhost:5000"
	regexp.MustCompile(`(?i)(?:listening|running|started|available|serving|live)\s+(?:on|at)\s+(?:port\s+)?(?:(?:localhost|127\.0\.0\.1|0\.0\.0\.0):)?(\d{2,5})`),
	// "port 8080" as a last resort
	regexp.MustCompile(`(?i)\bport\s+(\d{2,5})\b`),
}

// Detect scans a chunk of output for a server announcement. The announced
// port is translated through portMap when a mapping exists; otherwise it is
// used as-is, which covers the fallback backend's identity mapping. host is
// the hostname used in the preview URL; empty means localhost.
func Detect(chunk string, portMap map[int]int, host string) (Preview, bool) {
	if host == "" {
		host = "localhost"
	}

	for _, re := range patterns {
		m := re.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 1 || port > 65535 {
			continue
		}

		hostPort := port
		if mapped, ok := portMap[port]; ok {
			hostPort = mapped
		}

		return Preview{
			AnnouncedPort: port,
			HostPort:      hostPort,
			URL:           fmt.Sprintf("http://%s:%d", host, hostPort),
		}, true
	}

	return Preview{}, false
}
