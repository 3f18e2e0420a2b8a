// Package rest is the thin client for the platform's JSON API: thread list,
// paged messages and notifications, read acknowledgments and the send
// fallback used while the socket is down.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/studycircle/internal/model"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Pushed and fetched text is rendered in toasts and previews;
		// strip all markup before it reaches a surface.
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// page is the standard paged wrapper: page number + size in, has_more out.
type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// Threads fetches the authoritative thread list.
func (c *Client) Threads(ctx context.Context) ([]model.Thread, error) {
	var out []model.Thread
	if err := c.get(ctx, "/api/threads", nil, &out); err != nil {
		return nil, fmt.Errorf("threads: %w", err)
	}
	for i := range out {
		if out[i].LastMessage != nil {
			out[i].LastMessage.Content = c.sanitizer.Sanitize(out[i].LastMessage.Content)
		}
	}
	return out, nil
}

// Messages fetches one message page of a thread, oldest first within the
// page.
func (c *Client) Messages(ctx context.Context, threadID string, pageNum, size int) ([]model.Message, bool, error) {
	var out page[model.Message]
	q := url.Values{}
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("size", strconv.Itoa(size))
	if err := c.get(ctx, "/api/threads/"+url.PathEscape(threadID)+"/messages", q, &out); err != nil {
		return nil, false, fmt.Errorf("messages %s: %w", threadID, err)
	}
	for i := range out.Items {
		out.Items[i].Content = c.sanitizer.Sanitize(out.Items[i].Content)
	}
	return out.Items, out.HasMore, nil
}

// Notifications fetches one page of the authoritative notification list,
// including read state.
func (c *Client) Notifications(ctx context.Context, pageNum, size int) ([]model.Notification, bool, error) {
	var out page[model.Notification]
	q := url.Values{}
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("size", strconv.Itoa(size))
	if err := c.get(ctx, "/api/notifications", q, &out); err != nil {
		return nil, false, fmt.Errorf("notifications: %w", err)
	}
	for i := range out.Items {
		out.Items[i].Title = c.sanitizer.Sanitize(out.Items[i].Title)
		out.Items[i].Message = c.sanitizer.Sanitize(out.Items[i].Message)
	}
	return out.Items, out.HasMore, nil
}

// MarkNotificationRead acknowledges one notification.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.post(ctx, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllNotificationsRead acknowledges the whole feed.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.post(ctx, "/api/notifications/read-all", nil, nil)
}

// MarkThreadRead acknowledges a conversation as read.
func (c *Client) MarkThreadRead(ctx context.Context, threadID string) error {
	return c.post(ctx, "/api/threads/"+url.PathEscape(threadID)+"/read", nil, nil)
}

// SendMessage posts a message over REST; the fallback path while the socket
// is disconnected.
func (c *Client) SendMessage(ctx context.Context, threadID, content string, contentType model.ContentType) (model.Message, error) {
	body := map[string]string{
		"content":      content,
		"content_type": string(contentType),
	}
	var out model.Message
	if err := c.post(ctx, "/api/threads/"+url.PathEscape(threadID)+"/messages", body, &out); err != nil {
		return model.Message{}, fmt.Errorf("send message %s: %w", threadID, err)
	}
	out.Content = c.sanitizer.Sanitize(out.Content)
	return out, nil
}

// SanitizeMessage cleans a pushed message before it is stored for display.
func (c *Client) SanitizeMessage(m model.Message) model.Message {
	m.Content = c.sanitizer.Sanitize(m.Content)
	return m
}

// SanitizeNotification cleans a pushed notification before it is stored.
func (c *Client) SanitizeNotification(n model.Notification) model.Notification {
	n.Title = c.sanitizer.Sanitize(n.Title)
	n.Message = c.sanitizer.Sanitize(n.Message)
	return n
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
