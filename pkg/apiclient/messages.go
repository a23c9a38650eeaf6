package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	apperrors "booking-inbox/client/pkg/errors"
)

// RequestDescriptor is one candidate endpoint for a read operation
type RequestDescriptor struct {
	Tier         string
	Method       string
	PathTemplate string
}

var tierNames = []string{"primary", "alternate", "legacy"}

func messageChain(paths []string) []RequestDescriptor {
	chain := make([]RequestDescriptor, 0, len(paths))
	for i, p := range paths {
		tier := fmt.Sprintf("tier%d", i+1)
		if i < len(tierNames) {
			tier = tierNames[i]
		}
		chain = append(chain, RequestDescriptor{Tier: tier, Method: http.MethodGet, PathTemplate: p})
	}
	return chain
}

// MessageChain returns the ordered message-list descriptors
func (c *Client) MessageChain() []RequestDescriptor {
	out := make([]RequestDescriptor, len(c.chain))
	copy(out, c.chain)
	return out
}

// ListMessages fetches a conversation's history. The descriptors of the chain
// are tried strictly in order and the first 2xx answer wins. When every tier
// fails the last error is returned.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if len(c.chain) == 0 {
		return nil, apperrors.NewBadRequestError(apperrors.CodeBadRequest, "no message endpoint configured")
	}

	var lastErr error
	for _, d := range c.chain {
		body, err := c.do(ctx, request{
			op:     "list_messages",
			method: d.Method,
			path:   expand(d.PathTemplate, conversationID),
		})
		if err != nil {
			lastErr = err
			if !fallThrough(ctx, err) {
				return nil, err
			}
			c.log.Debug("Message endpoint failed, trying next tier",
				"tier", d.Tier,
				"conversation_id", conversationID,
				"error", err,
			)
			continue
		}

		messages, err := decodeList[Message](body, "messages")
		if err != nil {
			// A 2xx with an unreadable body still ends the chain.
			return nil, apperrors.NewDecodeError("list_messages", err)
		}
		c.metrics.FallbackTier.WithLabelValues(d.Tier).Inc()
		return messages, nil
	}
	return nil, lastErr
}

// fallThrough reports whether a failed tier should hand over to the next one.
// Missing credentials, an open circuit and a cancelled caller end the chain.
func fallThrough(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch apperrors.GetErrorCode(err) {
	case apperrors.CodeNoToken, apperrors.CodeCircuitOpen:
		return false
	}
	return true
}

// FilePart is an attachment to upload
type FilePart struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// SendRequest is the multipart payload of a send
type SendRequest struct {
	ConversationID string
	Content        string
	File           *FilePart

	// RecipientID is set on first-contact sends, which create the conversation
	RecipientID string

	// Kind is "image" or "video"; empty for documents
	Kind string
}

// SendResult is what the API reports about a created message
type SendResult struct {
	ConversationID string
	Message        *Message
}

// SendMessage posts a message with an optional file
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	body, contentType, err := c.encodeSend(req)
	if err != nil {
		return SendResult{}, err
	}

	raw, err := c.do(ctx, request{
		op:          "send_message",
		method:      http.MethodPost,
		path:        c.eps.SendMessage,
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return SendResult{}, err
	}

	// The message is stored once the API answers 2xx, whatever the body says.
	result, err := decodeSendResult(raw)
	if err != nil {
		c.log.Warn("Send succeeded with an unreadable response",
			"conversation_id", req.ConversationID,
			"error", err,
		)
	}
	return result, nil
}

func (c *Client) encodeSend(req SendRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"conversationId", req.ConversationID},
		{"recipientId", req.RecipientID},
		{"content", strings.TrimSpace(req.Content)},
	}
	if req.File != nil && req.Kind != "" {
		fields = append(fields, [2]string{"type", req.Kind})
	}
	fields = append(fields, [2]string{"folder", c.folder})

	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if req.File != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(req.File.Name)))
		ct := req.File.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, req.File.Data); err != nil {
			return nil, "", fmt.Errorf("read attachment: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// decodeSendResult returns what it could read alongside any decode error
func decodeSendResult(raw []byte) (SendResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return SendResult{}, nil
	}

	var envelope struct {
		ConversationID  flexID          `json:"conversationId"`
		ConversationID2 flexID          `json:"conversation_id"`
		Message         json.RawMessage `json:"message"`
		Data            json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return SendResult{}, apperrors.NewDecodeError("send_message", err)
	}

	result := SendResult{
		ConversationID: firstNonEmpty(string(envelope.ConversationID), string(envelope.ConversationID2)),
	}

	msgRaw := bytes.TrimSpace(envelope.Message)
	if len(msgRaw) == 0 || msgRaw[0] != '{' {
		msgRaw = bytes.TrimSpace(envelope.Data)
	}
	if len(msgRaw) > 0 && msgRaw[0] == '{' {
		var m Message
		if err := json.Unmarshal(msgRaw, &m); err != nil {
			return result, apperrors.NewDecodeError("send_message", err)
		}
		result.Message = &m
		if result.ConversationID == "" {
			result.ConversationID = m.ConversationID
		}
	}
	return result, nil
}
