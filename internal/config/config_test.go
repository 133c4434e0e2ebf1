package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoadFromFile verifies YAML values and the TTL accessor.
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.yaml")
	content := `claim:
  ttl_minutes: 30
policy:
  path: /etc/stagehand/policy.yaml
github:
  owner: octo-org
  repo: delivery
  project_id: PVT_kwDOA
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.ClaimTTLMinutes)
	require.Equal(t, 30*time.Minute, cfg.TTL())
	require.Equal(t, "/etc/stagehand/policy.yaml", cfg.PolicyPath)
	require.Equal(t, "octo-org", cfg.GitHub.Owner)
	require.Equal(t, "delivery", cfg.GitHub.Repo)
	require.Equal(t, "PVT_kwDOA", cfg.GitHub.ProjectID)
}

// TestLoadDefaults verifies the TTL default when the key is absent.
func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  owner: octo-org\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 15, cfg.ClaimTTLMinutes)
}

// TestLoadEnvOverride verifies STAGEHAND_ environment overrides.
func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  token: from-file\n"), 0o644))

	t.Setenv("STAGEHAND_GITHUB_TOKEN", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.GitHub.Token)
}

// TestLoadRejectsBadTTL verifies validation of the lease lifetime.
func TestLoadRejectsBadTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("claim:\n  ttl_minutes: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

// TestLoadMissingExplicitFile verifies an explicit path must exist.
func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
