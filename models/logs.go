package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// auditRetention bounds the audit log column so it cannot grow without limit.
const auditRetention = 1000

// TransitionEntry is one append-only record of a project status change.
type TransitionEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	OldStatus  ProjectStatus `json:"old_status"`
	NewStatus  ProjectStatus `json:"new_status"`
	ReviewerID uuid.UUID     `json:"reviewer_id"`
	Message    string        `json:"message,omitempty"`
}

// TransitionLog is the ordered sequence of status changes stored on a project.
type TransitionLog []TransitionEntry

// Value implements driver.Valuer, serializing the log as a JSON array.
func (l TransitionLog) Value() (driver.Value, error) {
	if l == nil {
		l = TransitionLog{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *TransitionLog) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// AuditEntry is one record in a user's coin audit trail. SourceRef carries
// the originating event identity (ballot id, bet id, purchase id) so a
// retried mutation can be detected and refused.
type AuditEntry struct {
	Timestamp       time.Time         `json:"timestamp"`
	Action          string            `json:"action"`
	ActorID         uuid.UUID         `json:"actor_id"`
	SourceRef       string            `json:"source_ref,omitempty"`
	Delta           int64             `json:"delta"`
	PreviousBalance int64             `json:"previous_balance"`
	NewBalance      int64             `json:"new_balance"`
	Details         map[string]string `json:"details,omitempty"`
}

// AuditLog is the ordered, immutable-once-written audit trail on a user row.
type AuditLog []AuditEntry

// Append returns the log extended with entry, keeping only the most recent
// entries within the retention window.
func (l AuditLog) Append(entry AuditEntry) AuditLog {
	out := append(l, entry)
	if len(out) > auditRetention {
		out = out[len(out)-auditRetention:]
	}
	return out
}

// FindBySourceRef returns the first entry recorded for the given source
// reference, or nil when none exists.
func (l AuditLog) FindBySourceRef(ref string) *AuditEntry {
	if ref == "" {
		return nil
	}
	for i := range l {
		if l[i].SourceRef == ref {
			return &l[i]
		}
	}
	return nil
}

// Value implements driver.Valuer.
func (l AuditLog) Value() (driver.Value, error) {
	if l == nil {
		l = AuditLog{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *AuditLog) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// StringList stores an ordered set of names as a JSON array column.
type StringList []string

// Contains reports whether the list holds an exact match for name.
func (s StringList) Contains(name string) bool {
	for _, v := range s {
		if v == name {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func scanJSON(value interface{}, out interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, out)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), out)
	default:
		return fmt.Errorf("models: cannot scan %T into JSON column", value)
	}
}
