package config_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"

	"sourceline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, "system", cfg.Awards.FallbackApprover)
	assert.Equal(t, 256, cfg.Cache.Size)
	assert.Equal(t, 30, cfg.Cache.TTLSeconds)
}

func TestOverallAppliesWeights(t *testing.T) {
	w := config.Weights{Technical: 0.4, Commercial: 0.3, Delivery: 0.3}

	cases := []struct {
		name                            string
		technical, commercial, delivery float64
		want                            float64
	}{
		{name: "mixed", technical: 80, commercial: 70, delivery: 90, want: 80},
		{name: "all zero", want: 0},
		{name: "all max", technical: 100, commercial: 100, delivery: 100, want: 100},
		{name: "technical only", technical: 100, want: 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := w.Overall(tc.technical, tc.commercial, tc.delivery)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Overall(%g, %g, %g) = %g, want %g", tc.technical, tc.commercial, tc.delivery, got, tc.want)
			}
		})
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := config.Default()
	cfg.Evaluation = config.Weights{Technical: 0.5, Commercial: 0.5, Delivery: 0.5}
	assert.Error(t, cfg.Validate())

	cfg.Evaluation = config.Weights{Technical: 1.5, Commercial: -0.25, Delivery: -0.25}
	assert.Error(t, cfg.Validate())
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
server:
  address: :9999
evaluation:
  technical: 0.5
  commercial: 0.25
  delivery: 0.25
`))
	assert.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	// untouched sections keep their defaults
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, 0.5, cfg.Evaluation.Technical)
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	_, err := config.FromYAML([]byte("evaluation:\n  technical: 2\n  commercial: 0\n  delivery: 0\n"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("webhooks:\n  - events: [bid.accepted]\n"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	assert.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	err = os.WriteFile(filepath.Join(dir, "sourceline.yml"), []byte(config.GenerateDefault()), 0o644)
	assert.NoError(t, err)
	cfg, err = config.Load(dir)
	assert.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}
