// Package bgremove calls the DeepAI background-remover API.
package bgremove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
)

// DefaultURL is the DeepAI background-remover endpoint.
const DefaultURL = "https://api.deepai.org/api/background-remover"

const defaultTimeout = 60 * time.Second

// ErrNoAPIKey is returned when the client was built without an API key.
var ErrNoAPIKey = errors.New("background remover api key is not configured")

// Result is the processed image returned by the API.
type Result struct {
	ID        string `json:"id"`
	OutputURL string `json:"output_url"`
}

type apiError struct {
	Status string `json:"status"`
	Err    string `json:"err"`
}

// Client is a background-remover API client.
type Client struct {
	httpClient *resty.Client
	url        string
	apiKey     string
	logger     *slog.Logger
}

// New returns a Client posting to url with apiKey. A nil httpClient gets a
// default resty client.
func New(httpClient *resty.Client, url, apiKey string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = resty.New().SetTimeout(defaultTimeout)
	}
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient.SetHeader("Accept", "application/json"),
		url:        url,
		apiKey:     apiKey,
		logger:     logger.With(slog.String("service", "bgremove")),
	}
}

// Remove uploads the image read from r and returns the URL of the result.
// Every failure is an apperr upstream error.
func (c *Client) Remove(ctx context.Context, name, contentType string, r io.Reader) (Result, error) {
	if c.apiKey == "" {
		return Result{}, apperr.Upstream("remove background", ErrNoAPIKey)
	}

	var (
		result Result
		apiErr apiError
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("api-key", c.apiKey).
		SetMultipartField("image", name, contentType, r).
		SetResult(&result).
		SetError(&apiErr).
		Post(c.url)
	if err != nil {
		return Result{}, apperr.Upstream("remove background", fmt.Errorf("post image: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("background remover rejected image", "status", resp.StatusCode(), "err", apiErr.Err)
		return Result{}, apperr.Upstream("remove background", fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), apiErr.Err))
	}
	if result.OutputURL == "" {
		return Result{}, apperr.Upstream("remove background", errors.New("response has no output_url"))
	}

	c.logger.Debug("background removed", "id", result.ID)
	return result, nil
}
