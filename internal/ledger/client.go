// Package ledger is a client for the remote ledger service that stores
// uploaded transactions, daily closing balances and card-processor batches.
//
// The service authenticates with an OAuth2 password grant: the client id and
// secret go in a basic auth header, the user's credentials in the form. The
// token is fetched once when the client is created.
//
// List endpoints return pages of the form {"count": n, "results": [...]}.
// A response outside the 2xx range is reported as an *HTTPError carrying the
// response body, wrapped in a ledger category error.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"transaction-uploader/internal/models"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// Endpoint paths, relative to the base URL.
const (
	TokenPath        = "/oauth2/token/"
	TransactionsPath = "/transactions/"
	BalancesPath     = "/balances/"
	BatchesPath      = "/batches/"
)

const dateLayout = "2006-01-02"

// Config holds the ledger address and credentials
type Config struct {
	URL          string        `json:"url" mapstructure:"url"`
	ClientID     string        `json:"client_id" mapstructure:"client_id"`
	ClientSecret string        `json:"-" mapstructure:"client_secret"`
	Username     string        `json:"username" mapstructure:"username"`
	Password     string        `json:"-" mapstructure:"password"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("ledger url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid ledger url: %s", c.URL)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("client id and secret are required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %s", c.Timeout)
	}
	return nil
}

// HTTPError is a response outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Content    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

type page[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// Client is an authenticated ledger connection.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

// NewClient fetches a token and returns a client that sends it with every request.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "api_url", config.URL, err)
	}

	baseURL := strings.TrimRight(config.URL, "/")
	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + TokenPath,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	if config.Timeout > 0 {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: config.Timeout})
	}
	token, err := oauthConfig.PasswordCredentialsToken(ctx, config.Username, config.Password)
	if err != nil {
		return nil, errors.LedgerError(errors.CodeAuthFailed, oauthConfig.Endpoint.TokenURL, err)
	}

	httpClient := oauthConfig.Client(ctx, token)
	httpClient.Timeout = config.Timeout

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		log:     logger.GetGlobalLogger().WithComponent("ledger"),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode "+path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "build "+path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.LedgerError(errors.CodeRequestFailed, path, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.LedgerError(errors.CodeRequestFailed, path, err)
	}

	c.log.WithFields(logger.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Ledger request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        endpoint,
			Content:    string(content),
		}
		code := errors.CodeRequestRejected
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = errors.CodeAuthFailed
		}
		return errors.LedgerError(code, path, httpErr).WithContext("status", resp.StatusCode)
	}

	if out == nil || len(content) == 0 {
		return nil
	}
	if err := json.Unmarshal(content, out); err != nil {
		return errors.LedgerError(errors.CodeRequestFailed, path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// LatestTransactionDate returns the calendar day of the most recently received
// transaction, or nil when the ledger holds none.
func (c *Client) LatestTransactionDate(ctx context.Context) (*time.Time, error) {
	var resp page[struct {
		ReceivedAt string `json:"received_at"`
	}]
	query := url.Values{"ordering": {"-received_at"}, "limit": {"1"}}
	if err := c.do(ctx, http.MethodGet, TransactionsPath, query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	date, err := models.ParseDate(resp.Results[0].ReceivedAt)
	if err != nil {
		return nil, errors.LedgerError(errors.CodeRequestFailed, TransactionsPath,
			fmt.Errorf("unexpected received_at %q: %w", resp.Results[0].ReceivedAt, err))
	}
	return &date, nil
}

// PostTransactions uploads one page of transactions.
func (c *Client) PostTransactions(ctx context.Context, txs []*models.Transaction) error {
	return c.do(ctx, http.MethodPost, TransactionsPath, nil, txs, nil)
}

// LatestBalance returns the most recent balance dated strictly before date,
// or nil when there is none.
func (c *Client) LatestBalance(ctx context.Context, before time.Time) (*models.Balance, error) {
	var resp page[models.Balance]
	query := url.Values{"limit": {"1"}, "date__lt": {before.Format(dateLayout)}}
	if err := c.do(ctx, http.MethodGet, BalancesPath, query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// PostBalance stores a closing balance.
func (c *Client) PostBalance(ctx context.Context, balance models.Balance) error {
	return c.do(ctx, http.MethodPost, BalancesPath, nil, balance, nil)
}

// BatchesOn lists the card-processor batches settled on date.
func (c *Client) BatchesOn(ctx context.Context, date time.Time) ([]models.Batch, error) {
	var resp page[models.Batch]
	query := url.Values{"date": {date.Format(dateLayout)}}
	if err := c.do(ctx, http.MethodGet, BatchesPath, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pages splits txs into consecutive pages of at most size transactions.
func Pages(txs []*models.Transaction, size int) [][]*models.Transaction {
	if size <= 0 {
		size = len(txs)
	}
	var pages [][]*models.Transaction
	for start := 0; start < len(txs); start += size {
		end := start + size
		if end > len(txs) {
			end = len(txs)
		}
		pages = append(pages, txs[start:end])
	}
	return pages
}

// String describes the client for logs.
func (c *Client) String() string {
	return "ledger(" + c.baseURL + ")"
}
