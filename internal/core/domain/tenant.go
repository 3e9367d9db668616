package domain

import (
	"net"
	"regexp"
	"strings"
	"time"
)

var (
	tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,62}$`)
	labelPattern    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	slugSeparators  = regexp.MustCompile(`[^a-z0-9]+`)
)

type Tenant struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

func (t Tenant) Deleted() bool {
	return t.DeletedAt != nil
}

type Domain struct {
	Domain    string
	TenantID  string
	CreatedAt time.Time
}

type TenantFilter struct {
	Active         *bool
	IncludeDeleted bool
	Limit          int
}

func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return FieldError("id", "must be a lowercase slug of letters, digits and underscores")
	}
	return nil
}

// ValidateDomain accepts a single subdomain label or a full hostname.
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 {
		return FieldError("domain", "must be a subdomain label or hostname")
	}
	for _, label := range strings.Split(domain, ".") {
		if !labelPattern.MatchString(label) {
			return FieldError("domain", "must be a subdomain label or hostname")
		}
	}
	return nil
}

// Slugify lowercases s and joins its alphanumeric runs with sep.
func Slugify(s string, sep string) string {
	slug := slugSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), sep)
	return strings.Trim(slug, sep)
}

// TenantIDFromName derives the default tenant id, e.g. "Acme Corp" -> "acme_corp".
func TenantIDFromName(name string) string {
	return Slugify(name, "_")
}

// DomainFromName derives the default subdomain, e.g. "Acme Corp" -> "acme-corp".
func DomainFromName(name string) string {
	return Slugify(name, "-")
}

// NormalizeHost lowercases host and strips any port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// Hostname returns the public host a domain record is served on: labels
// live under the central domain, full hostnames are used verbatim.
func (d Domain) Hostname(centralDomain string) string {
	if strings.Contains(d.Domain, ".") || centralDomain == "" {
		return d.Domain
	}
	return d.Domain + "." + centralDomain
}

// TenantURL builds scheme://host/path for a tenant domain.
func TenantURL(scheme string, d Domain, centralDomain, path string) string {
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + d.Hostname(centralDomain) + "/" + strings.TrimLeft(path, "/")
}
