package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/medicus/internal/models"
)

const (
	extractPath = "/extract-and-embed"
	healthPath  = "/health"

	// maxResponseBytes bounds the JSON body: full text plus a vector.
	maxResponseBytes = 64 << 20
)

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 disables limiting
	HTTPClient *http.Client
}

// Client talks to the PDF extraction and embedding service.
type Client struct {
	config   ClientConfig
	client   *http.Client
	limiter  *rate.Limiter
	endpoint string
}

type extractResponse struct {
	Success       *bool     `json:"success"`
	ExtractedText *string   `json:"extracted_text"`
	Embedding     []float32 `json:"embedding"`
	Error         string    `json:"error"`
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:5000"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid extraction service URL %q", config.BaseURL)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Client{
		config:   config,
		client:   client,
		limiter:  limiter,
		endpoint: strings.TrimRight(config.BaseURL, "/") + extractPath,
	}, nil
}

// Extract sends one PDF to the service. Every failure is an *Error naming the file.
func (c *Client) Extract(ctx context.Context, file models.FilePayload) (models.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
		}
	}

	body, contentType, err := encodeFile(file)
	if err != nil {
		return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Extraction{}, &Error{Kind: KindTransport, Filename: file.Filename, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Extraction{}, &Error{
			Kind:       KindStatus,
			Filename:   file.Filename,
			StatusCode: resp.StatusCode,
			Message:    serviceMessage(data),
		}
	}

	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return models.Extraction{}, &Error{Kind: KindDecode, Filename: file.Filename, Err: fmt.Errorf("response is not a JSON object")}
	}

	var parsed extractResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return models.Extraction{}, &Error{Kind: KindDecode, Filename: file.Filename, Err: err}
	}

	if parsed.Success != nil && !*parsed.Success {
		return models.Extraction{}, &Error{
			Kind:       KindStatus,
			Filename:   file.Filename,
			StatusCode: resp.StatusCode,
			Message:    parsed.Error,
		}
	}

	extraction := models.Extraction{Text: parsed.ExtractedText}
	if len(parsed.Embedding) > 0 {
		extraction.Embedding = parsed.Embedding
	}
	return extraction, nil
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	healthURL := strings.TrimSuffix(c.endpoint, extractPath) + healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeFile(file models.FilePayload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Filename)))
	header.Set("Content-Type", "application/pdf")

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func serviceMessage(body []byte) string {
	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
