package shared

import "fmt"

// ActionType enumerates UI follow-ups returned by mutating operations.
type ActionType string

const (
	// ActionNavigate asks the client to open Action.URL.
	ActionNavigate ActionType = "navigate"
	// ActionRefresh asks the client to reload the current page.
	ActionRefresh ActionType = "refresh"
)

// Action is the UI follow-up attached to an operation outcome.
type Action struct {
	Type ActionType `json:"type"`
	URL  string     `json:"url,omitempty"`
}

// Navigate builds a navigate action.
func Navigate(format string, args ...any) *Action {
	return &Action{Type: ActionNavigate, URL: fmt.Sprintf(format, args...)}
}

// Refresh builds a refresh action.
func Refresh() *Action {
	return &Action{Type: ActionRefresh}
}
