package api

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

	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
)

// DefaultTimeout bounds a single backend call when no client is injected.
const DefaultTimeout = 15 * time.Second

// EventFilter narrows a collection fetch. Zero values are omitted.
type EventFilter struct {
	Search string
	Max    int
}

// Client talks to the events backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a backend client rooted at baseURL
// (e.g. "http://localhost:3000").
func NewClient(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ImageURL resolves an event image reference against the backend root.
func (c *Client) ImageURL(image string) string {
	if image == "" {
		return ""
	}
	return c.baseURL + "/" + strings.TrimLeft(image, "/")
}

type eventsEnvelope struct {
	Events []model.Event `json:"events"`
}

type eventEnvelope struct {
	Event model.Event `json:"event"`
}

type imagesEnvelope struct {
	Images []model.Image `json:"images"`
}

// FetchEvents lists events, optionally filtered by search term and capped
// by Max.
func (c *Client) FetchEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Max > 0 {
		q.Set("max", strconv.Itoa(filter.Max))
	}
	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var env eventsEnvelope
	if err := c.do(ctx, "fetch events", http.MethodGet, path, nil, &env,
		"An error occurred while fetching the events"); err != nil {
		return nil, err
	}
	if env.Events == nil {
		env.Events = []model.Event{}
	}
	return env.Events, nil
}

// FetchEvent loads a single event.
func (c *Client) FetchEvent(ctx context.Context, id string) (model.Event, error) {
	if id == "" {
		return model.Event{}, errors.New("fetch event: empty id")
	}
	var env eventEnvelope
	if err := c.do(ctx, "fetch event", http.MethodGet, "/events/"+url.PathEscape(id), nil, &env,
		"An error occurred while fetching the event"); err != nil {
		return model.Event{}, err
	}
	return env.Event, nil
}

// CreateEvent stores a new event and returns it with its server-assigned id.
func (c *Client) CreateEvent(ctx context.Context, event model.Event) (model.Event, error) {
	var env eventEnvelope
	if err := c.do(ctx, "create event", http.MethodPost, "/events", eventEnvelope{Event: event}, &env,
		"An error occurred while creating the event"); err != nil {
		return model.Event{}, err
	}
	return env.Event, nil
}

// UpdateEvent replaces the event identified by id.
func (c *Client) UpdateEvent(ctx context.Context, id string, event model.Event) (model.Event, error) {
	if id == "" {
		return model.Event{}, errors.New("update event: empty id")
	}
	var env eventEnvelope
	if err := c.do(ctx, "update event", http.MethodPut, "/events/"+url.PathEscape(id), eventEnvelope{Event: event}, &env,
		"An error occurred while updating the event"); err != nil {
		return model.Event{}, err
	}
	if env.Event.ID == "" {
		// Some backends only acknowledge the update.
		event.ID = id
		return event, nil
	}
	return env.Event, nil
}

// DeleteEvent removes the event identified by id.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("delete event: empty id")
	}
	return c.do(ctx, "delete event", http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil,
		"An error occurred while deleting the event")
}

// FetchImages lists the images an event can reference.
func (c *Client) FetchImages(ctx context.Context) ([]model.Image, error) {
	var env imagesEnvelope
	if err := c.do(ctx, "fetch images", http.MethodGet, "/events/images", nil, &env,
		"An error occurred while fetching the images"); err != nil {
		return nil, err
	}
	return env.Images, nil
}

// do performs one request. body and out are JSON-encoded/decoded when non-nil;
// failMsg becomes HTTPError.Message on non-2xx responses.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, failMsg string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			appLog.Debug("api request canceled", "op", op, "path", path)
			return fmt.Errorf("%s: %w: %w", op, ErrCanceled, ctxErr)
		}
		appLog.Error("api request failed", err, "op", op, "method", method, "path", path)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%s: %w: %w", op, ErrCanceled, ctx.Err())
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	appLog.Debug("api request done",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			Message:    failMsg,
			StatusCode: resp.StatusCode,
		}
		if !json.Valid(raw) {
			httpErr.Text = string(raw)
			return httpErr
		}
		httpErr.Body = json.RawMessage(raw)
		var info ErrorInfo
		if json.Unmarshal(raw, &info) == nil {
			httpErr.Info = &info
		}
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
