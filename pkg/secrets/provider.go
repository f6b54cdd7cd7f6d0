package secrets

import (
	"context"
	"fmt"
)

// Provider fetches a named secret as a key-value map.
type Provider interface {
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}

// StaticProvider serves secrets from memory. Used when credentials come from
// the environment instead of AWS, and in tests.
type StaticProvider map[string]map[string]string

func (p StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("secret [%s] not found", key)
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out, nil
}
