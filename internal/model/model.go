package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome of the most recent call to a customer. The zero value
// StatusNone means that no outcome has been recorded yet.
type Status int

const (
	StatusNone Status = iota
	StatusCalledOK
	StatusUnreachable
	StatusWrongNumber
)

// statusCodes are the stable identifiers used in JSON and in the database.
var statusCodes = map[Status]string{
	StatusCalledOK:    "called_ok",
	StatusUnreachable: "called_unreachable",
	StatusWrongNumber: "called_wrong_number",
}

// Outcomes lists the statuses that can be chosen when completing a call.
var Outcomes = []Status{StatusCalledOK, StatusUnreachable, StatusWrongNumber}

// IsOutcome reports whether s is one of the three recordable call outcomes.
func (s Status) IsOutcome() bool {
	_, ok := statusCodes[s]
	return ok
}

// String returns the stable code of the status, or "none".
func (s Status) String() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return "none"
}

// ParseStatus converts a stable status code back into a Status. An empty
// string yields StatusNone.
func ParseStatus(code string) (Status, error) {
	if code == "" {
		return StatusNone, nil
	}
	for s, c := range statusCodes {
		if c == code {
			return s, nil
		}
	}
	return StatusNone, fmt.Errorf("unknown status code %q", code)
}

// MarshalJSON writes the status code, or null for StatusNone.
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.IsOutcome() {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status code or null.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code *string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	if code == nil {
		*s = StatusNone
		return nil
	}
	parsed, err := ParseStatus(*code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the status code, or NULL for StatusNone.
func (s Status) Value() (driver.Value, error) {
	if !s.IsOutcome() {
		return nil, nil
	}
	return s.String(), nil
}

// Scan reads a status code column that may be NULL.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = StatusNone
		return nil
	case string:
		parsed, err := ParseStatus(v)
		*s = parsed
		return err
	case []byte:
		parsed, err := ParseStatus(string(v))
		*s = parsed
		return err
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}

// Customer is one contact of the call list. The phone is always stored as a
// canonical digits-only string.
type Customer struct {
	ID        string     `json:"id"         db:"id"`
	Name      string     `json:"name"       db:"name"`
	Phone     string     `json:"phone"      db:"phone"`
	LastCall  *time.Time `json:"last_call"  db:"last_call"`
	Status    Status     `json:"status"     db:"status"`
	Note      string     `json:"note"       db:"note"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Metadata describes where the current customer set came from.
type Metadata struct {
	FileName string    `json:"fileName"`
	SavedAt  time.Time `json:"savedAt"`
}

// Snapshot is the unit of persistence: the full customer set plus metadata.
type Snapshot struct {
	Customers []Customer `json:"customers"`
	Metadata  Metadata   `json:"metadata"`
}

// RowIssue is a non-fatal problem found while decoding one spreadsheet row.
// Row is 1-based and counts the header, so the first data row is row 2.
type RowIssue struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult is the outcome of decoding a whole sheet.
type ImportResult struct {
	Valid  []Customer `json:"valid"`
	Errors []RowIssue `json:"errors"`
}
