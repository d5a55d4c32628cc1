// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// Site is a SharePoint site returned by the search endpoint.
type Site struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// List is a SharePoint list resolved by name.
type List struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Item is a list item; only Fields is consumed.
type Item struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type collection[T any] struct {
	Value []T `json:"value"`
}

// StatusError is returned when Graph answers with a non-200 status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client issues authenticated Microsoft Graph requests.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Graph client rooted at apiRoot. A nil httpClient uses
// resty's default transport; a zero timeout sets none.
func NewClient(apiRoot string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	var rc *resty.Client
	if httpClient != nil {
		rc = resty.NewWithClient(httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(apiRoot, "/"))
	rc.SetHeader("Accept", "application/json")
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}

	return &Client{http: rc, logger: logger}
}

// SearchSites searches the sites under hostname for query.
func (c *Client) SearchSites(ctx context.Context, token, hostname, query string) ([]Site, error) {
	var out collection[Site]
	endpoint := "/sites/" + hostname + "/sites"
	if err := c.get(ctx, token, endpoint, map[string]string{"search": query}, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// GetList resolves a list of siteID by name.
func (c *Client) GetList(ctx context.Context, token, siteID, listName string) (*List, error) {
	var out List
	endpoint := "/sites/" + siteID + "/lists/" + url.PathEscape(listName)
	if err := c.get(ctx, token, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListItems returns the first page of items of a list with fields expanded.
func (c *Client) ListItems(ctx context.Context, token, siteID, listID string) ([]Item, error) {
	var out collection[Item]
	endpoint := "/sites/" + siteID + "/lists/" + listID + "/items"
	if err := c.get(ctx, token, endpoint, map[string]string{"expand": "fields"}, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *Client) get(ctx context.Context, token, endpoint string, query map[string]string, out any) error {
	c.logger.Debug("Graph request", zap.String("endpoint", endpoint), zap.Any("query", query))

	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(query).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}

	if res.StatusCode() != http.StatusOK {
		body := strings.TrimSpace(res.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.logger.Warn("Graph request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", res.StatusCode()),
			zap.Duration("elapsed", res.Time()))
		return &StatusError{Endpoint: endpoint, StatusCode: res.StatusCode(), Body: body}
	}

	dec := json.NewDecoder(bytes.NewReader(res.Body()))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}

	c.logger.Debug("Graph request done",
		zap.String("endpoint", endpoint),
		zap.Duration("elapsed", res.Time()))
	return nil
}
