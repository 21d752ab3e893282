package coinmarketcap

import (
	"net/http"
)

const baseURL = "https://pro-api.coinmarketcap.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coinmarketcap_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the CoinMarketCap API, used as the fallback price
// source when a primary exchange does not know a symbol.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// apiKey authenticates every request; empty means not configured.
	apiKey string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the CoinMarketCap client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new CoinMarketCap client. An empty key produces a
// client that refuses to call out (see Configured).
func NewClient(key string, options ...ClientOption) *Client {
	var client = &Client{
		baseURL:    baseURL,
		apiKey:     key,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	client.header.Set("Accept", "application/json")
	for _, option := range options {
		option(client)
	}
	return client
}

// Configured reports whether an API key is present. Callers must check this
// before relying on the fallback path.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}
