package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// CharterdYAMLConfig represents the complete charterd.yaml file structure.
type CharterdYAMLConfig struct {
	Providers map[string]*ProviderConfig `yaml:"llm_providers"`
	Tiers     map[Tier]*TierConfig       `yaml:"tiers"`
	Router    *RouterConfig              `yaml:"router"`
	Interview *InterviewConfig           `yaml:"interview"`
	Injection *InjectionConfig           `yaml:"injection"`
}

// injectionPatternsYAML is the structure of an external patterns file.
type injectionPatternsYAML struct {
	Patterns []string `yaml:"patterns"`
}

// Initialize loads, merges, validates, and returns a ready-to-use
// configuration snapshot. Primary entry point for configuration loading.
//
// Steps performed:
//  1. Load charterd.yaml from configDir (missing file → built-ins only)
//  2. Expand environment variables in the YAML content
//  3. Merge built-in defaults under user-defined values
//  4. Load the external injection-patterns file, if configured
//  5. Build registries and validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	userCfg, err := loadCharterdYAML(configDir)
	if err != nil {
		return nil, NewLoadError("charterd.yaml", err)
	}

	builtin := GetBuiltinConfig()

	providers := builtin.Providers
	for name, p := range userCfg.Providers {
		providers[name] = p
	}

	tiers := builtin.Tiers
	for tier, t := range userCfg.Tiers {
		tiers[tier] = t
	}

	router := builtin.Router
	if userCfg.Router != nil {
		if err := mergo.Merge(&router, *userCfg.Router, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge router config: %w", err)
		}
		// mergo treats false as a zero value, so the boolean is carried over
		// explicitly.
		router.CostOptimization = userCfg.Router.CostOptimization
	}

	interview := builtin.Interview
	if userCfg.Interview != nil {
		if err := mergo.Merge(&interview, *userCfg.Interview, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge interview config: %w", err)
		}
	}

	injection := InjectionConfig{Patterns: builtin.InjectionPatterns}
	if userCfg.Injection != nil {
		injection.PatternsFile = userCfg.Injection.PatternsFile
		injection.Patterns = append(injection.Patterns, userCfg.Injection.Patterns...)
	}
	if injection.PatternsFile != "" {
		extra, err := loadInjectionPatterns(configDir, injection.PatternsFile)
		if err != nil {
			return nil, NewLoadError(injection.PatternsFile, err)
		}
		injection.Patterns = append(injection.Patterns, extra...)
	}

	cfg := &Config{
		configDir: configDir,
		Providers: NewProviderRegistry(providers),
		Tiers:     NewTierRegistry(tiers),
		Router:    router,
		Interview: interview,
		Injection: injection,
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"tiers", stats.Tiers,
		"injection_patterns", stats.Patterns)

	return cfg, nil
}

// loadCharterdYAML reads and parses charterd.yaml. A missing file is not an
// error: built-in defaults apply.
func loadCharterdYAML(configDir string) (*CharterdYAMLConfig, error) {
	path := filepath.Join(configDir, "charterd.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No charterd.yaml found, using built-in defaults", "path", path)
			return &CharterdYAMLConfig{}, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg CharterdYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// loadInjectionPatterns reads an external pattern list. Relative paths are
// resolved against configDir.
func loadInjectionPatterns(configDir, file string) ([]string, error) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed injectionPatternsYAML
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return parsed.Patterns, nil
}
