package federation

import (
	"testing"
)

func TestParseDomain_Valid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "mastodon.social", "mastodon.social"},
		{"subdomain", "social.example.org", "social.example.org"},
		{"trimmed", "  fosstodon.org\n", "fosstodon.org"},
		{"with port", "social.example.org:8443", "social.example.org:8443"},
		{"case preserved", "Mastodon.Social", "Mastodon.Social"},
		{"idn", "mastodon.xn--p1ai", "mastodon.xn--p1ai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDomain(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseDomain_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"no dot", "localhost"},
		{"scheme", "https://mastodon.social"},
		{"path", "mastodon.social/about"},
		{"query", "mastodon.social?x=1"},
		{"user part", "admin@mastodon.social"},
		{"inner space", "mastodon .social"},
		{"leading dot", ".mastodon.social"},
		{"trailing dot", "mastodon.social."},
		{"empty label", "mastodon..social"},
		{"empty port", "mastodon.social:"},
		{"bad port", "mastodon.social:https"},
		{"two colons", "mastodon.social:80:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDomain(tt.input); err == nil {
				t.Errorf("Expected error for %q", tt.input)
			}
		})
	}
}

func TestDomainBlocksURL(t *testing.T) {
	got := DomainBlocksURL("mastodon.social")
	want := "https://mastodon.social/api/v1/instance/domain_blocks"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
