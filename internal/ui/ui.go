// Package ui describes the user-facing side effects the inbox views need.
package ui

import (
	"strings"
	"sync"
)

// UI is what a view may ask of its frontend
type UI interface {
	// Alert shows a blocking message
	Alert(message string)
	// Confirm asks a blocking yes/no question
	Confirm(question string) bool
	// Navigate opens the detail view of a conversation
	Navigate(conversationID string)
	// ClearDraft empties the message input and file selection
	ClearDraft()
}

// Trigger names why a view re-synchronizes
type Trigger string

const (
	TriggerVisibility Trigger = "visibility"
	TriggerPageShow   Trigger = "pageshow"
	TriggerSend       Trigger = "send"
	TriggerManual     Trigger = "manual"
)

// ParseTrigger accepts the names a frontend sends; anything else is manual
func ParseTrigger(s string) Trigger {
	switch Trigger(strings.ToLower(strings.TrimSpace(s))) {
	case TriggerVisibility, "visibilitychange":
		return TriggerVisibility
	case TriggerPageShow:
		return TriggerPageShow
	case TriggerSend:
		return TriggerSend
	}
	return TriggerManual
}

// Recorder is a UI that remembers what happened, for one request or one test
type Recorder struct {
	mu         sync.Mutex
	confirm    bool
	alerts     []string
	redirect   string
	cleared    bool
	questions  []string
	navigation []string
}

// NewRecorder returns a Recorder that answers every Confirm with answer
func NewRecorder(answer bool) *Recorder {
	return &Recorder{confirm: answer}
}

func (r *Recorder) Alert(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
}

func (r *Recorder) Confirm(question string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions = append(r.questions, question)
	return r.confirm
}

func (r *Recorder) Navigate(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirect = conversationID
	r.navigation = append(r.navigation, conversationID)
}

func (r *Recorder) ClearDraft() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = true
}

// Answer is the reply given to every Confirm
func (r *Recorder) Answer() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirm
}

// Alerts returns the alerts shown so far
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

// Questions returns the confirmations asked so far
func (r *Recorder) Questions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.questions...)
}

// Redirect is the last navigation target, or ""
func (r *Recorder) Redirect() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirect
}

// Navigations returns every navigation target in order
func (r *Recorder) Navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.navigation...)
}

// Cleared reports whether the draft was cleared
func (r *Recorder) Cleared() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleared
}
