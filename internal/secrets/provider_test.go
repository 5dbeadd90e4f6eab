package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeVault map[string]string

func (f fakeVault) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := f[name]; ok {
		return v, nil
	}
	return "", errors.New("secret not found")
}

func TestResolveSource(t *testing.T) {
	tests := []struct {
		name        string
		source      SecretSource
		environment string
		expected    SecretSource
	}{
		{"auto in development", SourceAuto, "development", SourceEnvironment},
		{"auto with empty environment", SourceAuto, "", SourceEnvironment},
		{"auto in production", SourceAuto, "production", SourceVault},
		{"explicit environment in production", SourceEnvironment, "production", SourceEnvironment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveSource(tt.source, tt.environment))
		})
	}
}

func TestProvider_GetSecretOrEnv(t *testing.T) {
	env := map[string]string{"JWT_SECRET": "from-env"}
	p := NewProviderWithGetter(SourceVault, fakeVault{"merchant-jwt-secret": "from-vault", "redis-password": "r"}, zap.NewNop())
	p.lookup = func(k string) string { return env[k] }

	t.Run("env override wins", func(t *testing.T) {
		v, err := p.GetSecretOrEnv(context.Background(), "merchant-jwt-secret", "JWT_SECRET")
		require.NoError(t, err)
		assert.Equal(t, "from-env", v)
	})

	t.Run("falls back to vault", func(t *testing.T) {
		v, err := p.GetSecretOrEnv(context.Background(), "redis-password", "REDIS_PASSWORD")
		require.NoError(t, err)
		assert.Equal(t, "r", v)
	})

	t.Run("default when missing everywhere", func(t *testing.T) {
		v := p.GetSecretOrEnvWithDefault(context.Background(), "missing", "MISSING", "fallback")
		assert.Equal(t, "fallback", v)
	})
}

func TestProvider_EnvironmentSource(t *testing.T) {
	p := NewProviderWithGetter(SourceEnvironment, nil, zap.NewNop())
	p.lookup = func(string) string { return "" }

	_, err := p.GetSecret(context.Background(), "DATABASE_PASSWORD")
	assert.Error(t, err)
}

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache(time.Minute)
	c.now = func() time.Time { return now }

	c.put("k", "v")
	v, ok := c.get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("k")
	assert.False(t, ok)

	var nilCache *ttlCache
	_, ok = nilCache.get("k")
	assert.False(t, ok)
}
