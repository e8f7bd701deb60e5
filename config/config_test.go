package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	want := Default()
	assert.Equal(t, want.PromotionThreshold, cfg.PromotionThreshold)
	assert.Equal(t, want.WorkstackThreshold, cfg.WorkstackThreshold)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "substrate.yaml")
	content := "base_path: /tmp/custom\npromotion_threshold: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", cfg.BasePath)
	assert.Equal(t, 7, cfg.PromotionThreshold)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "substrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("promotion_threshold: 7\n"), 0o644))

	t.Setenv("SUBSTRATE_PROMOTION_THRESHOLD", "9")
	t.Setenv("SUBSTRATE_STATE_SNAPSHOT_PREFIX", "custom-prefix")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.PromotionThreshold, "env must override file value")
	assert.Equal(t, "custom-prefix", cfg.SnapshotPrefix)
}

func TestNumaPinningEnvOverrideFlowsToPipelineConfig(t *testing.T) {
	t.Setenv("SUBSTRATE_NUMA_PINNING", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.NumaPinning)
	assert.True(t, cfg.PipelineConfig().NumaPinning, "PipelineConfig must carry NumaPinning through to the pipeline")
}

func TestBootstrapAgentsSplitsOnComma(t *testing.T) {
	t.Setenv("SUBSTRATE_BOOTSTRAP_AGENTS", "a, b ,c")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.BootstrapAgents)
}
