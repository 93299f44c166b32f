package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Extractor config
	switch c.Extractor.Mode {
	case "remote":
		if c.Extractor.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "extractor.url",
				Message: "extraction service URL is required",
			})
		} else if u, err := url.Parse(c.Extractor.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "extractor.url",
				Message: "invalid extraction service URL",
			})
		}
	case "local":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required in local extractor mode",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "extractor.mode",
			Message: fmt.Sprintf("unknown extractor mode: %s", c.Extractor.Mode),
		})
	}

	if c.Extractor.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "extractor.timeout",
			Message: "timeout must be positive",
		})
	}

	if c.Extractor.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "extractor.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must not be negative",
		})
	}

	// Validate Storage config
	switch c.Storage.Type {
	case "local":
		if c.Storage.Root == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.root",
				Message: "root directory is required for local storage",
			})
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.minio.endpoint",
				Message: "endpoint is required for minio storage",
			})
		}
		if c.Storage.Minio.Bucket == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.minio.bucket",
				Message: "bucket is required for minio storage",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("unknown storage type: %s", c.Storage.Type),
		})
	}

	// Validate Ingest config
	if c.Ingest.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.workers",
			Message: "workers must be positive",
		})
	}

	for _, ext := range c.Ingest.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errors = append(errors, ValidationError{
				Field:   "ingest.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	if c.Retrieval.MaxSentences < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.max_sentences",
			Message: "max_sentences must be positive",
		})
	}

	if c.Server.MaxUploadMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_mb",
			Message: "max_upload_mb must be positive",
		})
	}

	return errors
}
