package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr        string `yaml:"addr"`
		MaxUploadMB int    `yaml:"max_upload_mb"`
		UploadsPath string `yaml:"uploads_path"`
	} `yaml:"server"`

	Extractor struct {
		Mode      string        `yaml:"mode"` // remote or local
		URL       string        `yaml:"url"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"`
	} `yaml:"extractor"`

	LLM struct {
		BaseURL    string `yaml:"base_url"`
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Storage struct {
		Type  string `yaml:"type"` // local or minio
		Root  string `yaml:"root"`
		Minio struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"minio"`
	} `yaml:"storage"`

	Ingest struct {
		Workers                 int      `yaml:"workers"`
		AllowedExtensions       []string `yaml:"allowed_extensions"`
		RecordFailedExtractions bool     `yaml:"record_failed_extractions"`
	} `yaml:"ingest"`

	Retrieval struct {
		MaxSentences int `yaml:"max_sentences"`
	} `yaml:"retrieval"`

	Fallback struct {
		Responses map[string]string `yaml:"responses"`
	} `yaml:"fallback"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/medicus/config.yaml"),
			"/etc/medicus/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 32
	}
	if config.Server.UploadsPath == "" {
		config.Server.UploadsPath = "/uploads/"
	}

	if config.Extractor.Mode == "" {
		config.Extractor.Mode = "remote"
	}
	if config.Extractor.URL == "" {
		config.Extractor.URL = "http://localhost:5000"
	}
	if config.Extractor.Timeout == 0 {
		config.Extractor.Timeout = 60 * time.Second
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.EmbedModel == "" {
		config.LLM.EmbedModel = "nomic-embed-text:latest"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "local"
	}
	if config.Storage.Root == "" {
		config.Storage.Root = "uploads"
	}
	if config.Storage.Minio.Bucket == "" {
		config.Storage.Minio.Bucket = "medicus-documents"
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if len(config.Ingest.AllowedExtensions) == 0 {
		config.Ingest.AllowedExtensions = []string{".pdf"}
	}

	if config.Retrieval.MaxSentences == 0 {
		config.Retrieval.MaxSentences = 3
	}
}

func mergeWithEnv(config *Config) {
	if addr := os.Getenv("PORT"); addr != "" {
		config.Server.Addr = ":" + addr
	}
	if url := os.Getenv("PYTHON_SERVICE_URL"); url != "" {
		config.Extractor.URL = url
	}
	if url := os.Getenv("EXTRACTOR_URL"); url != "" {
		config.Extractor.URL = url
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Minio.Endpoint = endpoint
	}
	if key := os.Getenv("MINIO_ACCESS_KEY"); key != "" {
		config.Storage.Minio.AccessKey = key
	}
	if secret := os.Getenv("MINIO_SECRET_KEY"); secret != "" {
		config.Storage.Minio.SecretKey = secret
	}
}
