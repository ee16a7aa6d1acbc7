package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ThreadDTO is a conversation container as the backend serializes it.
type ThreadDTO struct {
	ID             string    `json:"id"`
	ParticipantIDs []string  `json:"participantIds"`
	LastMessageID  string    `json:"lastMessageId"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	UnreadCount    int       `json:"unreadCount"`
}

// MessageDTO is a confirmed message as the backend serializes it. ClientID
// echoes the provisional id when the message originated from this client.
type MessageDTO struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	MediaRef  string    `json:"mediaRef"`
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"timestamp"`
}

// ListThreads fetches the user's threads ordered by recent activity.
func (c *Client) ListThreads(ctx context.Context) ([]ThreadDTO, error) {
	var out []ThreadDTO
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/threads", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages pages through a thread's history, newest first. beforeTs is a
// unix-millisecond keyset cursor; zero means "from the top".
func (c *Client) ListMessages(ctx context.Context, threadID string, beforeTs int64, limit int) ([]MessageDTO, error) {
	q := url.Values{}
	if beforeTs > 0 {
		q.Set("before", strconv.FormatInt(beforeTs, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []MessageDTO
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/threads/"+threadID+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message. clientID is the provisional id the server
// echoes back so the sender can reconcile the optimistic entry.
func (c *Client) SendMessage(ctx context.Context, threadID, clientID, text, mediaRef string) (*MessageDTO, error) {
	body := map[string]string{
		"clientId": clientID,
		"text":     text,
	}
	if mediaRef != "" {
		body["mediaRef"] = mediaRef
	}
	var out MessageDTO
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/threads/"+threadID+"/messages", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead reports the given messages as read by the local user.
func (c *Client) MarkRead(ctx context.Context, threadID string, messageIDs []string) error {
	body := map[string]any{"messageIds": messageIDs}
	return c.doJSON(ctx, http.MethodPost, "/api/messages/threads/"+threadID+"/read", nil, body, nil)
}
