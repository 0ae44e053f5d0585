// Package tenant resolves which tenant a request belongs to and names the
// per-tenant replay signals.
package tenant

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// DefaultHeader carries the tenant id on requests from the application.
	DefaultHeader = "X-Tenant-ID"
	// BodyField is the JSON body field consulted when the header is absent.
	BodyField = "tenant_id"
	// Default is the shared fallback tenant for unidentified requests.
	Default = "default"

	tagPrefix = "sync-tenant-"
)

// Resolver extracts tenant ids from requests.
type Resolver struct {
	Header string
}

// NewResolver returns a resolver reading header, or DefaultHeader when empty.
func NewResolver(header string) Resolver {
	if header == "" {
		header = DefaultHeader
	}
	return Resolver{Header: header}
}

// Resolve returns the tenant for a request: the header when set, else the
// body's tenant_id field, else Default. Degraded requests all land on Default.
func (r Resolver) Resolve(h http.Header, body []byte) string {
	name := r.Header
	if name == "" {
		name = DefaultHeader
	}
	if v := strings.TrimSpace(h.Get(name)); v != "" {
		return v
	}
	return FromBody(body)
}

// FromBody reads tenant_id from a JSON object body. Strings and numbers are
// accepted; anything else resolves to Default.
func FromBody(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Default
	}
	v := gjson.GetBytes(body, BodyField)
	switch v.Type {
	case gjson.String, gjson.Number:
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return Default
}

// Tag returns the replay signal tag for a tenant.
func Tag(tenantID string) string {
	return tagPrefix + tenantID
}

// ParseTag extracts the tenant from a replay signal tag.
func ParseTag(tag string) (string, bool) {
	if !strings.HasPrefix(tag, tagPrefix) {
		return "", false
	}
	t := tag[len(tagPrefix):]
	if t == "" {
		return "", false
	}
	return t, true
}
