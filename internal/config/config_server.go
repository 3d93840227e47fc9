package config

// ServerConfig configures the gateway's HTTP listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RepositoryConfig configures the session/message store, matched by
// internal/repository.Config.
type RepositoryConfig struct {
	// Path is the SQLite database file path. Use ":memory:" for an
	// ephemeral store (tests, single-shot tools).
	Path string `yaml:"path"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Path == "" {
		cfg.Path = "gateway.db"
	}
}
