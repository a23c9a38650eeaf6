package thread

import (
	"strings"
	"time"

	"booking-inbox/client/internal/attachment"
)

// RenderedMessage is one row of the conversation view
type RenderedMessage struct {
	ID          string    `json:"id"`
	Mine        bool      `json:"mine"`
	SenderName  string    `json:"senderName,omitempty"`
	Text        string    `json:"text,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Seen        bool      `json:"seen"`
	Pending     bool      `json:"pending"`
}

// Render lays out the messages in server order, optimistic ones last.
// Messages from the current identity are marked Mine, and any link in the
// content or a file URL becomes a normalized attachment.
func (s *Synchronizer) Render() []RenderedMessage {
	self := s.session.UserID()
	snap := s.Snapshot()

	out := make([]RenderedMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		out = append(out, RenderedMessage{
			ID:          m.ID,
			Mine:        self != "" && m.Sender.ID == self,
			SenderName:  m.Sender.Name,
			Text:        m.Content,
			Attachments: attachment.Links(m.Content, m.FileURL, s.base),
			CreatedAt:   m.CreatedAt,
			Seen:        m.Seen,
			Pending:     strings.HasPrefix(m.ID, TempPrefix),
		})
	}
	return out
}
