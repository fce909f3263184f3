package invoicing

import (
	"errors"
	"fmt"

	"github.com/fakturace/fakturace/internal/shared"
)

// Status enumerates invoice lifecycle states.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusSent    Status = "sent"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// ErrInvalidStatus is returned for unknown statuses and illegal transitions.
var ErrInvalidStatus = errors.New("invoicing: invalid status")

var statusAliases = map[string]Status{
	"draft":         StatusDraft,
	"koncept":       StatusDraft,
	"navrh":         StatusDraft,
	"rozpracovana":  StatusDraft,
	"sent":          StatusSent,
	"odeslana":      StatusSent,
	"odeslano":      StatusSent,
	"vystavena":     StatusSent,
	"nezaplacena":   StatusSent,
	"paid":          StatusPaid,
	"zaplacena":     StatusPaid,
	"zaplaceno":     StatusPaid,
	"uhrazena":      StatusPaid,
	"uhrazeno":      StatusPaid,
	"overdue":       StatusOverdue,
	"po splatnosti": StatusOverdue,
}

var transitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusPaid},
	StatusSent:    {StatusPaid, StatusOverdue, StatusDraft},
	StatusOverdue: {StatusPaid, StatusSent},
	StatusPaid:    {StatusSent},
}

// ParseStatus maps English codes and common Czech wording to a Status.
func ParseStatus(raw string) (Status, error) {
	if st, ok := statusAliases[shared.Fold(raw)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Label returns the Czech label shown to users.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "koncept"
	case StatusSent:
		return "odeslaná"
	case StatusPaid:
		return "zaplacená"
	case StatusOverdue:
		return "po splatnosti"
	default:
		return string(s)
	}
}

// CanTransition reports whether an invoice may move from one status to
// another. Staying in the same status is allowed as a no-op.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// historyActionFor returns the history action recorded when entering status.
func historyActionFor(to Status) HistoryAction {
	switch to {
	case StatusSent:
		return HistorySent
	case StatusPaid:
		return HistoryPaid
	case StatusOverdue:
		return HistoryOverdue
	default:
		return HistoryUpdated
	}
}
