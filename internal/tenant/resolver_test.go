package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nortide/console-auth/internal/tenant"
)

func newResolver(t *testing.T) *tenant.Resolver {
	t.Helper()
	resolver, err := tenant.NewResolver(tenant.Config{
		BaseDomain:      "console.nortide.test",
		IssuerTemplate:  "https://%s.auth.nortide.test",
		DefaultClientID: "console",
		Overrides: map[string]string{
			"login.acme.com": "acme",
		},
	})
	require.NoError(t, err)
	return resolver
}

func TestResolverResolveSubdomain(t *testing.T) {
	resolver := newResolver(t)

	ctx, err := resolver.Resolve(context.Background(), "Acme.console.nortide.test:8443")
	require.NoError(t, err)
	require.Equal(t, "acme", ctx.Slug)
	require.Equal(t, "https://acme.auth.nortide.test", ctx.Issuer)
	require.Equal(t, "console", ctx.ClientID)
}

func TestResolverResolveOverrideHost(t *testing.T) {
	resolver := newResolver(t)

	ctx, err := resolver.Resolve(context.Background(), "login.acme.com")
	require.NoError(t, err)
	require.Equal(t, "acme", ctx.Slug)
}

func TestResolverResolveUnknownHost(t *testing.T) {
	resolver := newResolver(t)

	_, err := resolver.Resolve(context.Background(), "unrelated.example.com")
	require.Error(t, err)
}

func TestResolverDefaultTenantFallback(t *testing.T) {
	resolver, err := tenant.NewResolver(tenant.Config{
		IssuerTemplate: "https://%s.auth.nortide.test",
		DefaultTenant:  "acme",
	})
	require.NoError(t, err)

	ctx, err := resolver.Resolve(context.Background(), "localhost:3000")
	require.NoError(t, err)
	require.Equal(t, "acme", ctx.Slug)
}

func TestResolverResolveBySlug(t *testing.T) {
	resolver := newResolver(t)

	ctx, err := resolver.ResolveBySlug(context.Background(), " Globex ")
	require.NoError(t, err)
	require.Equal(t, "globex", ctx.Slug)
	require.Equal(t, "https://globex.auth.nortide.test", ctx.Issuer)
}

func TestResolverRejectsEmptyInputs(t *testing.T) {
	resolver := newResolver(t)

	_, err := resolver.Resolve(context.Background(), "  ")
	require.Error(t, err)

	_, err = resolver.ResolveBySlug(context.Background(), "")
	require.Error(t, err)
}

func TestResolverRequiresIssuerTemplate(t *testing.T) {
	_, err := tenant.NewResolver(tenant.Config{})
	require.Error(t, err)

	_, err = tenant.NewResolver(tenant.Config{IssuerTemplate: "https://auth.nortide.test"})
	require.Error(t, err)
}
