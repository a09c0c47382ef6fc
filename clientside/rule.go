// Package clientside implements the client dialer (C8): proxy rule
// parsing, the control channel lifecycle, and local TCP dials on
// CREATE_LINK (spec's OPEN).
package clientside

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Rule is a parsed "<bind_host>:<bind_port>:<local_host>:<local_port>"
// proxy rule.
type Rule struct {
	BindHost  string
	BindPort  uint16
	LocalHost string
	LocalPort uint16
}

// BindAddr returns the "host:port" the client is asking the server to
// bind.
func (r Rule) BindAddr() string { return net.JoinHostPort(r.BindHost, strconv.Itoa(int(r.BindPort))) }

// LocalAddr returns the "host:port" the client dials locally on OPEN.
func (r Rule) LocalAddr() string {
	return net.JoinHostPort(r.LocalHost, strconv.Itoa(int(r.LocalPort)))
}

// ParseRule parses a single rule string, right-to-left, treating balanced
// "[...]" segments as atomic so bracketed IPv6 hosts survive the split
// (Design Note: "IPv6 parsing", spec §9).
func ParseRule(s string) (Rule, error) {
	localPortStr, rest, err := popField(s)
	if err != nil {
		return Rule{}, fmt.Errorf("clientside: parsing local port: %w", err)
	}
	localHostRaw, rest, err := popField(rest)
	if err != nil {
		return Rule{}, fmt.Errorf("clientside: parsing local host: %w", err)
	}
	bindPortStr, rest, err := popField(rest)
	if err != nil {
		return Rule{}, fmt.Errorf("clientside: parsing bind port: %w", err)
	}
	bindHostRaw := trimBrackets(rest)
	if bindHostRaw == "" {
		return Rule{}, fmt.Errorf("clientside: rule %q missing bind host", s)
	}

	bindPort, err := parsePort(bindPortStr)
	if err != nil {
		return Rule{}, fmt.Errorf("clientside: invalid bind port %q: %w", bindPortStr, err)
	}
	localPort, err := parsePort(localPortStr)
	if err != nil {
		return Rule{}, fmt.Errorf("clientside: invalid local port %q: %w", localPortStr, err)
	}

	return Rule{
		BindHost:  bindHostRaw,
		BindPort:  bindPort,
		LocalHost: trimBrackets(localHostRaw),
		LocalPort: localPort,
	}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func trimBrackets(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1]
	}
	return s
}

// popField removes and returns the rightmost ":"-delimited field of s,
// along with what remains. A field ending in "]" is assumed to be a
// bracketed IPv6 host: popField scans back to the matching "[" instead of
// splitting on the colons inside it.
func popField(s string) (field, rest string, err error) {
	if strings.HasSuffix(s, "]") {
		idx := strings.LastIndex(s, "[")
		if idx < 0 {
			return "", "", fmt.Errorf("unbalanced '[' in %q", s)
		}
		field = s[idx:]
		rest = s[:idx]
		if rest == "" {
			return field, "", nil
		}
		if !strings.HasSuffix(rest, ":") {
			return "", "", fmt.Errorf("expected ':' before bracketed host in %q", s)
		}
		return field, rest[:len(rest)-1], nil
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing ':' separator in %q", s)
	}
	return s[idx+1:], s[:idx], nil
}
