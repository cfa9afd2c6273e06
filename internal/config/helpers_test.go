package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
apiVersion: gateway.avagate.io/v1
kind: Gateway
metadata:
  name: test-gateway
spec:
  server:
    address: ":9090"
  auth:
    issuer: https://issuer.example.com
    audience: orders-api
    keys:
      - id: k1
        algorithm: HS256
        secret: ${TEST_SECRET:-0123456789abcdef0123456789abcdef}
  rateLimit:
    capacity: 10
    refillRate: 1
  routes:
    - name: orders
      version: v1
      prefix: /orders
      backend: http://orders.internal:8080
      timeout: 2s
      retries: 1
      stripPrefix: true
      scopes: [orders:read]
    - name: status
      version: v1
      prefix: /status
      backend: http://status.internal
      public: true
      cost: 2
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func mustLoad(t *testing.T, content string) *GatewayConfig {
	t.Helper()
	cfg, err := NewLoader(WithLookupEnv(func(string) (string, bool) { return "", false })).
		LoadFromReader(stringReader(content))
	require.NoError(t, err)
	return cfg
}
