package apiclient

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Participant is a member of a conversation as the API reports it
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// UnmarshalJSON accepts either a participant object or a bare id
func (p *Participant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = Participant{}
		return nil
	}
	if data[0] != '{' {
		var id flexID
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = Participant{ID: string(id)}
		return nil
	}

	var raw struct {
		ID       flexID `json:"id"`
		MongoID  flexID `json:"_id"`
		UserID   flexID `json:"user_id"`
		Name     string `json:"name"`
		Username string `json:"username"`
		FullName string `json:"fullName"`
		Role     string `json:"role"`
		Avatar   string `json:"avatar"`
		Photo    string `json:"profilePicture"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Participant{
		ID:     firstNonEmpty(string(raw.ID), string(raw.MongoID), string(raw.UserID)),
		Name:   firstNonEmpty(raw.Name, raw.FullName, raw.Username),
		Role:   raw.Role,
		Avatar: firstNonEmpty(raw.Avatar, raw.Photo),
	}
	return nil
}

// Conversation is a two-party message thread
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  string        `json:"lastMessage,omitempty"`
	UpdatedAt    *time.Time    `json:"updatedAt,omitempty"`
}

// HasParticipant reports whether id takes part in the conversation
func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Other returns the first participant that is not self
func (c Conversation) Other(self string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return Participant{}, false
}

// UnmarshalJSON tolerates the naming variants the API has used over time
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            flexID          `json:"id"`
		MongoID       flexID          `json:"_id"`
		ConvID        flexID          `json:"conversation_id"`
		Participants  []Participant   `json:"participants"`
		Members       []Participant   `json:"members"`
		LastMessage   json.RawMessage `json:"lastMessage"`
		LastMessage2  json.RawMessage `json:"last_message"`
		UpdatedAt     flexTime        `json:"updatedAt"`
		UpdatedAt2    flexTime        `json:"updated_at"`
		LastMessageAt flexTime        `json:"lastMessageAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	participants := raw.Participants
	if len(participants) == 0 {
		participants = raw.Members
	}

	*c = Conversation{
		ID:           firstNonEmpty(string(raw.ID), string(raw.MongoID), string(raw.ConvID)),
		Participants: participants,
		LastMessage:  firstNonEmpty(previewText(raw.LastMessage), previewText(raw.LastMessage2)),
	}
	for _, t := range []flexTime{raw.UpdatedAt, raw.UpdatedAt2, raw.LastMessageAt} {
		if !t.IsZero() {
			ts := time.Time(t)
			c.UpdatedAt = &ts
			break
		}
	}
	return nil
}

// previewText reads a last-message preview that is either a string or a message object
func previewText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var m struct {
		Content string `json:"content"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &m); err == nil {
		return firstNonEmpty(m.Content, m.Text)
	}
	return ""
}

// Message belongs to exactly one conversation
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId,omitempty"`
	Content        string      `json:"content,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Sender         Participant `json:"sender"`
	Seen           bool        `json:"seen"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileType       string      `json:"fileType,omitempty"`
}

// UnmarshalJSON tolerates the naming variants the API has used over time
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             flexID      `json:"id"`
		MongoID        flexID      `json:"_id"`
		ConversationID flexID      `json:"conversationId"`
		ConvID         flexID      `json:"conversation_id"`
		Conversation   flexID      `json:"conversation"`
		Content        string      `json:"content"`
		Text           string      `json:"text"`
		CreatedAt      flexTime    `json:"createdAt"`
		CreatedAt2     flexTime    `json:"created_at"`
		Timestamp      flexTime    `json:"timestamp"`
		Sender         Participant `json:"sender"`
		SenderID       flexID      `json:"senderId"`
		SenderID2      flexID      `json:"sender_id"`
		Seen           *bool       `json:"seen"`
		Read           *bool       `json:"read"`
		FileURL        string      `json:"fileUrl"`
		FileURL2       string      `json:"file_url"`
		Attachment     string      `json:"attachment"`
		FileType       string      `json:"fileType"`
		Type           string      `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	sender := raw.Sender
	if sender.ID == "" {
		sender.ID = firstNonEmpty(string(raw.SenderID), string(raw.SenderID2))
	}

	*m = Message{
		ID:             firstNonEmpty(string(raw.ID), string(raw.MongoID)),
		ConversationID: firstNonEmpty(string(raw.ConversationID), string(raw.ConvID), string(raw.Conversation)),
		Content:        firstNonEmpty(raw.Content, raw.Text),
		Sender:         sender,
		FileURL:        firstNonEmpty(raw.FileURL, raw.FileURL2, raw.Attachment),
		FileType:       firstNonEmpty(raw.FileType, raw.Type),
	}
	for _, t := range []flexTime{raw.CreatedAt, raw.CreatedAt2, raw.Timestamp} {
		if !t.IsZero() {
			m.CreatedAt = time.Time(t)
			break
		}
	}
	switch {
	case raw.Seen != nil:
		m.Seen = *raw.Seen
	case raw.Read != nil:
		m.Seen = *raw.Read
	}
	return nil
}

// flexID decodes identifiers sent as strings, numbers or Mongo-style {"$oid": "..."}
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	case data[0] == '{':
		var oid struct {
			OID string `json:"$oid"`
			ID  string `json:"_id"`
		}
		if err := json.Unmarshal(data, &oid); err != nil {
			return err
		}
		*id = flexID(firstNonEmpty(oid.OID, oid.ID))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

// flexTime decodes the timestamp shapes the API has been seen to send. A value
// it cannot read becomes the zero time so one odd field never fails a list.
type flexTime time.Time

func (t flexTime) IsZero() bool { return time.Time(t).IsZero() }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateTime,
	"2006-01-02 15:04:05.999999999Z07:00",
	time.DateOnly,
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = flexTime{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}
	if parsed, ok := parseTime(s); ok {
		*t = flexTime(parsed.UTC())
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	// Unix milliseconds, sometimes as a float or inside a string
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return time.UnixMilli(int64(f)), true
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
