package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPopulatesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "anthropic", cfg.Model.Provider)
	require.Equal(t, 0.85, cfg.TaskMatch.ReuseThreshold)
	require.Equal(t, 0.80, cfg.TaskMatch.RetrievalThreshold)
	require.Equal(t, -3, cfg.ContextMgr.PruneScoreThreshold)
}

func TestLoadWithMissingPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().WorkDir, cfg.WorkDir)
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaultsFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
work_dir = "/tmp/custom"

[model]
provider = "bedrock"
bedrock_region = "us-west-2"

[task_match]
reuse_threshold = 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", cfg.WorkDir)
	require.Equal(t, "bedrock", cfg.Model.Provider)
	require.Equal(t, "us-west-2", cfg.Model.BedrockRegion)
	require.Equal(t, 0.9, cfg.TaskMatch.ReuseThreshold)
}

func TestLoadAppliesEnvironmentOverridesAfterFile(t *testing.T) {
	t.Setenv("PLANSCOPE_WORKDIR", "/tmp/from-env")
	t.Setenv("PLANSCOPE_ANTHROPIC_API_KEY", "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-env", cfg.WorkDir)
	require.Equal(t, "env-key", cfg.Model.AnthropicKey)
}
