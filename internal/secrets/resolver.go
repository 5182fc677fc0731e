package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// RefPrefix marks a configuration value as an indirect secret reference.
// A value of the form gcp-secret://<secret-id> is resolved against Google
// Cloud Secret Manager at startup; anything else is used literally.
const RefPrefix = "gcp-secret://"

// cacheEntry is a resolved secret with its expiry
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Resolver resolves gcp-secret:// references through Google Cloud Secret
// Manager, caching results so repeated lookups of the same credential do not
// hammer the API
type Resolver struct {
	client    *secretmanager.Client
	projectID string
	cache     map[string]*cacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
}

// NewResolver creates a secret resolver for the given GCP project
func NewResolver(ctx context.Context, projectID string) (*Resolver, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &Resolver{
		client:    client,
		projectID: projectID,
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  5 * time.Minute,
	}, nil
}

// Close closes the Secret Manager client
func (r *Resolver) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// IsRef reports whether a configuration value is a secret reference
func IsRef(value string) bool {
	return strings.HasPrefix(value, RefPrefix)
}

// Resolve returns the plaintext for a configuration value. Literal values
// pass through unchanged; gcp-secret:// references are fetched from Secret
// Manager.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	secretID := sanitizeSecretID(strings.TrimPrefix(value, RefPrefix))
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, secretID)

	r.cacheMu.RLock()
	if entry, ok := r.cache[name]; ok && time.Now().Before(entry.expiresAt) {
		r.cacheMu.RUnlock()
		return entry.value, nil
	}
	r.cacheMu.RUnlock()

	result, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretID, err)
	}
	plaintext := string(result.Payload.Data)

	r.cacheMu.Lock()
	r.cache[name] = &cacheEntry{value: plaintext, expiresAt: time.Now().Add(r.cacheTTL)}
	r.cacheMu.Unlock()

	return plaintext, nil
}

// ResolveAll resolves each value in place, returning the first failure
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

// InvalidateCache drops all cached secrets
func (r *Resolver) InvalidateCache() {
	r.cacheMu.Lock()
	r.cache = make(map[string]*cacheEntry)
	r.cacheMu.Unlock()
}

// sanitizeSecretID removes characters GCP does not allow in secret IDs
func sanitizeSecretID(input string) string {
	var result strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}
	return result.String()
}
