package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycircle/internal/model"
)

func TestClient_MessagesPageAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/threads/t1/messages", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "25", r.URL.Query().Get("size"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []model.Message{
				{ID: "a", ThreadID: "t1", Content: "plain"},
				{ID: "b", ThreadID: "t1", Content: `<script>alert(1)</script>hi`},
			},
			"has_more": true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	msgs, hasMore, err := c.Messages(context.Background(), "t1", 2, 25)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, msgs, 2)
	assert.Equal(t, "plain", msgs[0].Content)
	// Markup in fetched content is stripped before it reaches a surface.
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestClient_NotificationsSanitized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"items": []model.Notification{
				{ID: "n1", Type: model.NotificationMention, Title: `<b>Ann</b> mentioned you`, Message: "see <i>this</i>"},
			},
			"has_more": false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	list, hasMore, err := c.Notifications(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, list, 1)
	assert.Equal(t, "Ann mentioned you", list[0].Title)
	assert.Equal(t, "see this", list[0].Message)
}

func TestClient_ThreadsSanitizesPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/threads", r.URL.Path)
		json.NewEncoder(w).Encode([]model.Thread{
			{ID: "t1", LastMessage: &model.MessageSummary{ID: "m1", Content: "<img src=x>bye"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	threads, err := c.Threads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "bye", threads[0].LastMessage.Content)
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/threads/t1/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		assert.Equal(t, "text", body["content_type"])
		json.NewEncoder(w).Encode(model.Message{ID: "m1", ThreadID: "t1", Content: "hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	m, err := c.SendMessage(context.Background(), "t1", "hello", model.ContentTypeText)
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
}

func TestClient_ReadAcks(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	require.NoError(t, c.MarkNotificationRead(context.Background(), "n1"))
	require.NoError(t, c.MarkAllNotificationsRead(context.Background()))
	require.NoError(t, c.MarkThreadRead(context.Background(), "t1"))
	assert.Equal(t, []string{
		"/api/notifications/n1/read",
		"/api/notifications/read-all",
		"/api/threads/t1/read",
	}, paths)
}

func TestClient_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, _, err := c.Messages(context.Background(), "t1", 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_SanitizeHelpers(t *testing.T) {
	c := NewClient("http://unused", "")
	m := c.SanitizeMessage(model.Message{Content: "<a href=x>link</a>"})
	assert.Equal(t, "link", m.Content)
	n := c.SanitizeNotification(model.Notification{Title: "<u>t</u>", Message: "<p>m</p>"})
	assert.Equal(t, "t", n.Title)
	assert.Equal(t, "m", n.Message)
}
