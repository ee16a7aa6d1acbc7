package api

import (
	"context"
	"net/http"
)

// CallSetup is the backend's response to call creation or answering: the
// call's identity plus the credentials for joining the media channel.
type CallSetup struct {
	CallID    string `json:"callId"`
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// InitiateCall asks the backend to ring a callee and allocate a media
// channel. callID is client-generated, the same id the signaling path uses,
// so socket events and REST responses reconcile without a mapping table.
func (c *Client) InitiateCall(ctx context.Context, callID, calleeID string, isVideo bool) (*CallSetup, error) {
	body := map[string]any{
		"callId":   callID,
		"calleeId": calleeID,
		"isVideo":  isVideo,
	}
	var out CallSetup
	if err := c.doJSON(ctx, http.MethodPost, "/api/calls", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnswerCall accepts an incoming call and returns the media join credentials.
func (c *Client) AnswerCall(ctx context.Context, callID string) (*CallSetup, error) {
	var out CallSetup
	if err := c.doJSON(ctx, http.MethodPost, "/api/calls/"+callID+"/answer", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/calls/"+callID+"/reject", nil, nil, nil)
}

// EndCall hangs up an active call.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/calls/"+callID+"/end", nil, nil, nil)
}
