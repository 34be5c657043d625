package credential

import (
	"regexp"
	"sort"
	"strings"

	"sovereign-journalist/internal/model"
)

var (
	piiKey     = regexp.MustCompile(`(?i)email|name|id$|phone|address|ssn|dob|birth`)
	emailValue = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Provider identifiers are short slugs like "github" or "http".
	providerSlug = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
)

// ProviderLabel returns the credential's provider when it is a plain
// identifier slug and UnknownProvider otherwise. Prompts, logs and published
// articles name the provider only through here.
func ProviderLabel(c model.VerifiedCredential) string {
	if !providerSlug.MatchString(c.Provider) {
		return UnknownProvider
	}
	return c.Provider
}

// Sanitize renders the credential as "key: value, ..." keeping only keys
// that are not PII-shaped and values that are not email addresses. With
// nothing left it returns ProviderLabel. Every prompt that mentions the
// credential goes through here or ProviderLabel.
func Sanitize(c model.VerifiedCredential) string {
	keys := make([]string, 0, len(c.Parameters))
	for k, v := range c.Parameters {
		if piiKey.MatchString(k) || emailValue.MatchString(v) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ProviderLabel(c)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k+": "+c.Parameters[k])
	}
	return strings.Join(fields, ", ")
}
