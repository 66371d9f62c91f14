// Package tenant resolves which organization's authorization server a request
// targets, based on the console host it arrived on.
package tenant

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// Context stores resolved tenant metadata used throughout the request lifecycle.
type Context struct {
	Slug     string
	Issuer   string
	ClientID string
}

// Config drives host-based resolution. Consoles are served on subdomains of
// BaseDomain, and each tenant's authorization server issuer is derived from
// IssuerTemplate ("%s" is replaced with the tenant slug). Overrides map custom
// console hosts to tenant slugs.
type Config struct {
	BaseDomain      string
	IssuerTemplate  string
	DefaultTenant   string
	DefaultClientID string
	Overrides       map[string]string
}

// Resolver maps request hosts to tenant contexts.
type Resolver struct {
	cfg Config
}

// NewResolver creates a tenant resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.IssuerTemplate == "" {
		return nil, fmt.Errorf("tenant resolver: issuer template is required")
	}
	if !strings.Contains(cfg.IssuerTemplate, "%s") {
		return nil, fmt.Errorf("tenant resolver: issuer template must contain %%s")
	}
	cfg.BaseDomain = strings.ToLower(strings.TrimSpace(cfg.BaseDomain))
	normalized := make(map[string]string, len(cfg.Overrides))
	for host, slug := range cfg.Overrides {
		normalized[strings.ToLower(strings.TrimSpace(host))] = strings.ToLower(strings.TrimSpace(slug))
	}
	cfg.Overrides = normalized
	return &Resolver{cfg: cfg}, nil
}

// Resolve maps a request host to a tenant context.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(host))
	if cleaned == "" {
		zap.L().Warn("tenant resolver received empty host")
		return nil, fmt.Errorf("resolve tenant: empty host")
	}
	if h, _, err := net.SplitHostPort(cleaned); err == nil {
		cleaned = h
	}

	if slug, ok := r.cfg.Overrides[cleaned]; ok {
		return r.ResolveBySlug(ctx, slug)
	}

	if r.cfg.BaseDomain != "" && strings.HasSuffix(cleaned, "."+r.cfg.BaseDomain) {
		sub := strings.TrimSuffix(cleaned, "."+r.cfg.BaseDomain)
		if sub != "" && !strings.Contains(sub, ".") {
			return r.ResolveBySlug(ctx, sub)
		}
	}

	if r.cfg.DefaultTenant != "" {
		return r.ResolveBySlug(ctx, r.cfg.DefaultTenant)
	}

	zap.L().Warn("no tenant for host", zap.String("host", cleaned))
	return nil, fmt.Errorf("resolve tenant: unknown host %q", cleaned)
}

// ResolveBySlug builds a tenant context for an explicit tenant slug.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(slug))
	if cleaned == "" {
		zap.L().Warn("tenant resolver received empty slug")
		return nil, fmt.Errorf("resolve tenant: empty slug")
	}

	issuer := fmt.Sprintf(r.cfg.IssuerTemplate, cleaned)
	zap.L().Debug("tenant context resolved", zap.String("slug", cleaned), zap.String("issuer", issuer))

	return &Context{
		Slug:     cleaned,
		Issuer:   issuer,
		ClientID: r.cfg.DefaultClientID,
	}, nil
}
