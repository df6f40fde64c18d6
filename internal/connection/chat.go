package connection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"carelink/internal/transport"
)

// ChatRequest is an outbound chat turn. Extra fields are merged into the payload
// verbatim; typed fields win on key collisions.
type ChatRequest struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	VoiceBase64 string `json:"voiceBase64,omitempty"`
	AiRoleID    string `json:"aiRoleId"`
	// RequestID correlates the chat_response. Generated when empty.
	RequestID string         `json:"requestId,omitempty"`
	Extra     map[string]any `json:"-"`
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type plain ChatRequest
	b, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	m := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		m[k] = v
	}
	var typed map[string]any
	if err := json.Unmarshal(b, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		m[k] = v
	}
	return json.Marshal(m)
}

// ChatResponse is the payload of a chat_response frame.
type ChatResponse struct {
	RequestID string `json:"requestId"`
	AiRoleID  string `json:"aiRoleId"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	AudioURL  string `json:"audioUrl,omitempty"`
	// Raw keeps the full payload for fields this struct does not model.
	Raw json.RawMessage `json:"-"`
}

// DecodeChatResponse parses an Event's Data.
func DecodeChatResponse(data json.RawMessage) (ChatResponse, error) {
	var r ChatResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return ChatResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), data...)
	return r, nil
}

// SendChatMessage sends req tagged as a chat frame and returns its request id.
// Like Send, it fails with ErrSendRejected unless the connection is Open.
func (m *Manager) SendChatMessage(ctx context.Context, req ChatRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := m.Send(ctx, transport.TypeChat, req); err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// Exchange sends req and waits for the chat_response carrying the same request id.
func (m *Manager) Exchange(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ch := make(chan ChatResponse, 1)
	id := m.On(EventChatResponse, func(ev Event) {
		resp, err := DecodeChatResponse(ev.Data)
		if err != nil || resp.RequestID != req.RequestID {
			return
		}
		select {
		case ch <- resp:
		default:
		}
	})
	defer m.Off(EventChatResponse, id)

	if _, err := m.SendChatMessage(ctx, req); err != nil {
		return ChatResponse{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
}
