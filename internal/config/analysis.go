package config

// AnalysisConfig selects the backend analyze_subsection delegates to.
type AnalysisConfig struct {
	Backend   string `yaml:"backend"` // local, hierarchical, gemini, ollama
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"` // ollama endpoint
	Timeout   string `yaml:"timeout"`
	ChunkSize int    `yaml:"chunk_size"` // hierarchical split threshold
}
