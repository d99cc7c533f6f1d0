package secrets

import "regexp"

// Pattern defines a secret detection pattern. Replace is the template used by
// Redact; patterns that match a label plus a value keep the label.
type Pattern struct {
	Name    string
	Regex   *regexp.Regexp
	Replace string
}

const mask = "[REDACTED]"

// DefaultPatterns returns the built-in secret detection patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "Private Key Block",
			Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?(?:-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----|\z)`),
		},
		{
			Name:  "AWS Access Key",
			Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
		{
			Name:  "GitHub Token",
			Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
		},
		{
			Name:  "GitHub Fine-Grained Token",
			Regex: regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),
		},
		{
			Name:  "Perplexity API Key",
			Regex: regexp.MustCompile(`pplx-[A-Za-z0-9]{32,}`),
		},
		{
			Name:  "Stripe Secret Key",
			Regex: regexp.MustCompile(`sk_live_[A-Za-z0-9]{24,}`),
		},
		{
			Name:    "Connection String",
			Regex:   regexp.MustCompile(`((?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:@\s/]+:)[^@\s]+@`),
			Replace: "${1}" + mask + "@",
		},
		{
			Name:  "JWT Token",
			Regex: regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		},
		{
			Name:    "Bearer Token",
			Regex:   regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]{16,}=*`),
			Replace: "${1}" + mask,
		},
		{
			Name:    "Credential Assignment",
			Regex:   regexp.MustCompile(`(?i)(\b[A-Z0-9_]*(?:API_KEY|SECRET|TOKEN|PASSWORD)[A-Z0-9_]*\s*[:=]\s*["']?)[^\s"']{8,}`),
			Replace: "${1}" + mask,
		},
	}
}
