package config

type Config struct {
	Server    ServerConfig
	Reasoning ReasoningConfig
	Storage   StorageConfig
	Rules     RulesConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type ReasoningConfig struct {
	BaseURL         string
	Model           string
	DispatchTimeout string // Go duration string, e.g. "30s"
}

type StorageConfig struct {
	DataDir string
}

type RulesConfig struct {
	// AllowOvernightWindows makes time-window rules with start > end wrap
	// past midnight instead of never matching.
	AllowOvernightWindows bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Reasoning: ReasoningConfig{
			BaseURL:         "http://localhost:11434",
			Model:           "mistral-nemo",
			DispatchTimeout: "30s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Rules: RulesConfig{
			AllowOvernightWindows: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/facet/config.json, then applies FACET_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
