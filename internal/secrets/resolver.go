package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/wikifolio-adapter/pkg/secrets"
)

const cacheKey = "wikifolio|credentials"

// CredentialsResolver loads the wikifolio login pair from a secrets provider,
// caching it locally to reduce API calls.
//
// Secret naming convention: {env}/wikifolio/credentials
type CredentialsResolver struct {
	logger     *zap.Logger
	secretName string
	provider   pkgsecrets.Provider
	cache      *pkgsecrets.Cache[pkgsecrets.Credentials]
}

// SecretName builds the default secret name for an environment.
func SecretName(env string) string {
	return strings.ToLower(fmt.Sprintf("%s/wikifolio/credentials", env))
}

// NewCredentialsResolver constructs a resolver. An empty secretName falls
// back to SecretName(env).
func NewCredentialsResolver(
	logger *zap.Logger,
	env string,
	secretName string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[pkgsecrets.Credentials],
) *CredentialsResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secretName == "" {
		secretName = SecretName(env)
	}
	return &CredentialsResolver{
		logger:     logger,
		secretName: secretName,
		provider:   provider,
		cache:      cache,
	}
}

// Credentials returns the cached pair or fetches it from the provider.
func (r *CredentialsResolver) Credentials(ctx context.Context) (pkgsecrets.Credentials, error) {
	// --- check in-memory cache first ---
	if creds, ok := r.cache.Get(cacheKey); ok {
		metrics.IncCacheHit("hit")
		return creds, nil
	}
	metrics.IncCacheHit("miss")

	// --- fetch from the provider ---
	secretMap, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", r.secretName),
			zap.Error(err))
		return pkgsecrets.Credentials{}, fmt.Errorf("resolve wikifolio credentials: %w", err)
	}

	creds, err := parseCredentials(secretMap)
	if err != nil {
		return pkgsecrets.Credentials{}, fmt.Errorf("parse secret %q: %w", r.secretName, err)
	}

	r.cache.Put(cacheKey, creds)
	r.logger.Info("aws.credentials_resolved", zap.String("key", r.secretName))
	return creds, nil
}

// Rejected drops the cached pair after the platform refused it, so a
// rotated secret is picked up by the next login.
func (r *CredentialsResolver) Rejected(pkgsecrets.Credentials) {
	r.cache.Bust(cacheKey)
	r.logger.Warn("aws.credentials_busted", zap.String("key", r.secretName))
}

func parseCredentials(m map[string]string) (pkgsecrets.Credentials, error) {
	creds := pkgsecrets.Credentials{
		Email:    firstOf(m, "email", "username", "WIKIFOLIO_EMAIL"),
		Password: firstOf(m, "password", "WIKIFOLIO_PASSWORD"),
	}
	if creds.Empty() {
		return pkgsecrets.Credentials{}, fmt.Errorf("secret needs email and password")
	}
	return creds, nil
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
