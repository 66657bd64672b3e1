package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/bulletins.yaml
var bulletinsYAML embed.FS

const embeddedConfigPath = "config/bulletins.yaml"

// Fetcher kinds accepted in configuration.
const (
	FetcherHTTP  = "http"
	FetcherColly = "colly"
)

// DefaultOutputPattern names each country's CSV; %s is the country key.
const DefaultOutputPattern = "%s_family_visa_backlog_timecourse.csv"

// FetchConfig defines HTTP fetching configuration.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // Default: 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"` // e.g., "en-US,en;q=0.9"
	UserAgent      string  `yaml:"user_agent,omitempty"`
}

// Config describes where bulletins come from and where the time courses go.
type Config struct {
	ListingURL    string      `yaml:"listing_url"`
	BaseURL       string      `yaml:"base_url"`
	Countries     []string    `yaml:"countries"`
	OutputDir     string      `yaml:"output_dir"`
	OutputPattern string      `yaml:"output_pattern,omitempty"`
	Fetcher       string      `yaml:"fetcher,omitempty"` // "http" or "colly"
	CacheDir      string      `yaml:"cache_dir,omitempty"`
	TableKinds    []string    `yaml:"table_kinds,omitempty"`
	Fetch         FetchConfig `yaml:"fetch,omitempty"`
}

// LoadConfig reads the configuration at path, or the embedded bulletins.yaml when
// path is empty. ${VAR} references are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = bulletinsYAML.ReadFile(embeddedConfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration, applies defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Countries) == 0 {
		c.Countries = append([]string(nil), KnownCountries...)
	}
	var countries []string
	for _, country := range c.Countries {
		countries = appendUnique(countries, foldLower(country))
	}
	c.Countries = countries

	if c.OutputDir == "" {
		c.OutputDir = "data"
	}
	if c.OutputPattern == "" {
		c.OutputPattern = DefaultOutputPattern
	}
	if c.Fetcher == "" {
		c.Fetcher = FetcherHTTP
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.Fetch.MaxRetries == 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Fetch.RateLimitRPS == 0 {
		c.Fetch.RateLimitRPS = 1.0
	}
}

// Validate checks the fields a run cannot do without.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("config: listing_url is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	for _, country := range c.Countries {
		if err := ValidateCountry(country); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch c.Fetcher {
	case FetcherHTTP, FetcherColly:
	default:
		return fmt.Errorf("config: unknown fetcher %q", c.Fetcher)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Policy returns the table kind policy described by table_kinds.
func (c *Config) Policy() (OrdinalPolicy, error) {
	return ParseTableKinds(c.TableKinds)
}

// NewFetcher builds the fetcher selected by the configuration.
func (c *Config) NewFetcher() Fetcher {
	if c.Fetcher == FetcherColly {
		return NewCollyFetcher(c.Fetch, c.CacheDir)
	}
	return NewRateLimitedFetcher(c.Fetch)
}
