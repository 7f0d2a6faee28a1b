package federation

import (
	"fmt"
	"strings"
	"unicode"
)

const domainBlocksPath = "/api/v1/instance/domain_blocks"

// ParseDomain validates an instance name taken from the directory and
// returns it trimmed. Only bare host names are accepted:
//   - mastodon.social
//   - social.example.org:8443 (explicit port)
//
// Names with a scheme, path, user part or whitespace are rejected so a
// malformed roster entry can never redirect the request elsewhere.
func ParseDomain(name string) (string, error) {
	domain := strings.TrimSpace(name)
	if domain == "" {
		return "", fmt.Errorf("domain cannot be empty")
	}
	if strings.Contains(domain, "://") {
		return "", fmt.Errorf("domain %q must not include a scheme", domain)
	}
	if strings.ContainsAny(domain, "/?#@\\") {
		return "", fmt.Errorf("domain %q must be a bare host name", domain)
	}
	if strings.IndexFunc(domain, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("domain %q must not contain whitespace", domain)
	}

	host := domain
	if i := strings.LastIndex(domain, ":"); i >= 0 {
		if !isDigits(domain[i+1:]) {
			return "", fmt.Errorf("domain %q has an invalid port", domain)
		}
		host = domain[:i]
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("domain %q has more than one port separator", domain)
	}

	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("domain %q must contain at least one dot", domain)
	}
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") || strings.Contains(host, "..") {
		return "", fmt.Errorf("domain %q has an empty label", domain)
	}
	return domain, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DomainBlocksURL returns the public moderation endpoint of an instance.
func DomainBlocksURL(domain string) string {
	return "https://" + domain + domainBlocksPath
}
