package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var errMissingBaseURL = errors.New("store: rest base url is required")

// RESTClientConfig describes the secondary HTTP write path. TokenSource,
// when set, supplies the bearer token per request and takes precedence over
// the static api key for the Authorization header.
type RESTClientConfig struct {
	BaseURL     string
	APIKey      string
	TokenSource func() (string, error)
	HTTPClient  *http.Client
}

// RESTClient issues the same logical operations as the primary client over a
// PostgREST-compatible HTTP surface. It exists because the direct and HTTP
// paths have independent failure modes.
type RESTClient struct {
	baseURL     string
	apiKey      string
	tokenSource func() (string, error)
	client      *http.Client
}

// NewRESTClient constructs the secondary store client.
func NewRESTClient(cfg RESTClientConfig) (*RESTClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTClient{
		baseURL:     base,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		tokenSource: cfg.TokenSource,
		client:      httpClient,
	}, nil
}

// Select loads the rows of a collection matching the filter.
func (c *RESTClient) Select(ctx context.Context, collection string, filter Filter, opts Options) ([]Row, error) {
	endpoint := c.endpoint(collection, filter)
	if opts.OrderBy != "" {
		direction := "asc"
		if opts.Descending {
			direction = "desc"
		}
		endpoint += "&order=" + url.QueryEscape(opts.OrderBy+"."+direction)
	}
	if opts.Limit > 0 {
		endpoint += "&limit=" + strconv.Itoa(opts.Limit)
	}
	return c.rows(ctx, http.MethodGet, endpoint, nil, false)
}

// Insert posts the rows and returns the stored representation.
func (c *RESTClient) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return c.rows(ctx, http.MethodPost, c.endpoint(collection, nil), payload, true)
}

// Update patches every row matching the filter.
func (c *RESTClient) Update(ctx context.Context, collection string, filter Filter, patch Row) ([]Row, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("store: update on %s requires a filter", collection)
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	return c.rows(ctx, http.MethodPatch, c.endpoint(collection, filter), payload, true)
}

// Delete removes every row matching the filter.
func (c *RESTClient) Delete(ctx context.Context, collection string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("store: delete on %s requires a filter", collection)
	}
	_, err := c.rows(ctx, http.MethodDelete, c.endpoint(collection, filter), nil, false)
	return err
}

// CallProcedure invokes a remote procedure via the rpc endpoint.
func (c *RESTClient) CallProcedure(ctx context.Context, name string, args Row) (Row, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/rpc/"+url.PathEscape(name), payload, false)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Row{}, nil
	}
	var result Row
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("store: rpc %s returned unexpected payload: %w", name, err)
	}
	return result, nil
}

func (c *RESTClient) endpoint(collection string, filter Filter) string {
	values := url.Values{}
	for field, value := range filter {
		values.Add(field, "eq."+fmt.Sprint(value))
	}
	endpoint := c.baseURL + "/" + url.PathEscape(collection)
	encoded := values.Encode()
	if encoded == "" {
		// A trailing separator keeps the option-appending callers uniform.
		return endpoint + "?"
	}
	return endpoint + "?" + encoded
}

func (c *RESTClient) rows(ctx context.Context, method, endpoint string, payload []byte, returnRepresentation bool) ([]Row, error) {
	body, err := c.do(ctx, method, endpoint, payload, returnRepresentation)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("store: unexpected response payload: %w", err)
	}
	return rows, nil
}

func (c *RESTClient) do(ctx context.Context, method, endpoint string, payload []byte, returnRepresentation bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if returnRepresentation {
		request.Header.Set("Prefer", "return=representation")
	}
	if c.apiKey != "" {
		request.Header.Set("apikey", c.apiKey)
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.tokenSource != nil {
		token, err := c.tokenSource()
		if err != nil {
			return nil, fmt.Errorf("store: minting bearer token: %w", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("store: %s %s returned %d: %s", method, endpoint, response.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
