package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/reviewgate/internal/fault"
)

// Config represents the application configuration. Values layer in
// order: built-in defaults, TOML file, REVIEWGATE_* environment
// variables, CLI flags (applied by the caller).
type Config struct {
	Platform struct {
		Type  string `koanf:"type"` // github or gitlab
		URL   string `koanf:"url"`  // empty selects the public host
		Token string `koanf:"token"`
	} `koanf:"platform"`

	AI struct {
		Provider        string `koanf:"provider"`
		APIKey          string `koanf:"api_key"`
		Model           string `koanf:"model"`
		BaseURL         string `koanf:"base_url"`
		MaxOutputTokens int    `koanf:"max_output_tokens"`
	} `koanf:"ai"`

	Review struct {
		Language          string        `koanf:"language"`
		Scope             string        `koanf:"scope"`
		MaxChunkBytes     int           `koanf:"max_chunk_bytes"`
		Concurrency       int           `koanf:"concurrency"`
		ChunkTimeout      time.Duration `koanf:"chunk_timeout"`
		RequestsPerSecond float64       `koanf:"requests_per_second"`
		MaxFiles          int           `koanf:"max_files"`
		Include           []string      `koanf:"include"`
		Exclude           []string      `koanf:"exclude"`
		FailOn            string        `koanf:"fail_on"`
		RedactSecrets     bool          `koanf:"redact_secrets"`
	} `koanf:"review"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// defaults are the built-in configuration values
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"platform.type":          "github",
		"ai.provider":            "openai",
		"ai.max_output_tokens":   8192,
		"review.scope":           "standard",
		"review.max_chunk_bytes": 64 * 1024,
		"review.concurrency":     4,
		"review.chunk_timeout":   2 * time.Minute,
		"review.max_files":       200,
		"review.redact_secrets":  true,
		"log.level":              "info",
	}
}

// Load reads the configuration from defaults, an optional TOML file, and
// the environment.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(defaults(), "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fault.Config("loading config file %s: %v", configPath, err)
		}
	} else {
		for _, path := range []string{"./reviewgate.toml", "$HOME/.reviewgate.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("REVIEWGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REVIEWGATE_")), "_", ".", 1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fault.Config("unmarshalling config: %v", err)
	}
	return &cfg, nil
}

// Validate checks the fields the pipeline cannot run without
func (c *Config) Validate() error {
	switch c.Platform.Type {
	case "github", "gitlab":
	default:
		return fault.Config("unsupported platform %q (want github or gitlab)", c.Platform.Type)
	}
	if c.Platform.Token == "" {
		return fault.Config("platform token is required (platform.token or REVIEWGATE_PLATFORM_TOKEN)")
	}
	if c.AI.Model == "" {
		return fault.Config("model name is required (ai.model)")
	}
	if c.AI.APIKey == "" && c.AI.Provider != "ollama" {
		return fault.Config("AI api key is required (ai.api_key or REVIEWGATE_AI_API_KEY)")
	}
	if c.Review.MaxChunkBytes <= 0 {
		return fault.Config("max chunk bytes must be positive, got %d", c.Review.MaxChunkBytes)
	}
	if c.Review.Concurrency <= 0 {
		return fault.Config("concurrency must be positive, got %d", c.Review.Concurrency)
	}
	return nil
}

// InitConfig writes a commented sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fault.Config("configuration file already exists at %s", configPath)
	}

	sample := `# reviewgate configuration

[platform]
type = "github"
# url is only needed for self-hosted instances
# url = "https://gitlab.example.com"
token = "your-platform-token"

[ai]
provider = "openai"
api_key = "your-api-key"
model = "gpt-4o-mini"
max_output_tokens = 8192

[review]
language = "english"
scope = "standard"
max_chunk_bytes = 65536
concurrency = 4
# fail_on = "major"
# exclude = ["vendor/**", "*.lock"]
redact_secrets = true

[log]
level = "info"
`

	return os.WriteFile(configPath, []byte(sample), 0644)
}
