package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the annotated configuration written by 'radiusd init'.
// It must parse and validate with Load.
const sampleConfig = `# radiusd server configuration
#
# Every value can be overridden with an environment variable using the
# RADIUSD_ prefix, e.g. RADIUSD_RADIUS_SECRET or RADIUSD_LOGGING_LEVEL.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: "INFO"
  # text or json
  format: "text"
  # stdout, stderr or a file path
  output: "stdout"

# Maximum time to wait for in-flight requests on shutdown
shutdown_timeout: 30s

radius:
  host: "127.0.0.1"
  auth_port: 1812
  acct_port: 1813
  # Concurrent datagrams handled per listener
  max_concurrent: 200
  # RADIUS shared secret. Required; prefer RADIUSD_RADIUS_SECRET in production.
  secret: ""

policy:
  # Path to the policy file (address pools, match rules, reply definitions)
  path: ""

redis:
  host: "127.0.0.1"
  port: 6379
  db: 0
  # TTL applied to stored dialogs
  expiry: 24h

api:
  enabled: true
  host: "127.0.0.1"
  port: 4711

metrics:
  enabled: false
  # When 0, metrics are served on the API server under /metrics
  port: 0
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// Fails if the file already exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file will carry the shared secret.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
