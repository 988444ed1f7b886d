package model

import "time"

// Customer is the public view of a customer of the call list. Status is the stable status code,
// or null when no outcome has been recorded. The display fields are derived from phone and status.
type Customer struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	PhoneDisplay string     `json:"phone_display"`
	LastCall     *time.Time `json:"last_call"`
	Status       *string    `json:"status"`
	StatusLabel  string     `json:"status_label"`
	StatusColor  string     `json:"status_color"`
	StatusIcon   string     `json:"status_icon"`
	Note         string     `json:"note"`
	Pending      bool       `json:"pending"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RowError is a spreadsheet row that was skipped during an import.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResponse is returned by a successful import.
// Mode is "load" when the set was replaced and "merge" when it was merged into the existing one.
type ImportResponse struct {
	Message  string     `json:"message"`
	Mode     string     `json:"mode"`
	FileName string     `json:"file_name"`
	Imported int        `json:"imported"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Errors   []RowError `json:"errors"`
}

// Summary describes the state of the call queue.
type Summary struct {
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Completed       int        `json:"completed"`
	State           string     `json:"state"`
	SessionComplete bool       `json:"session_complete"`
	FileName        string     `json:"file_name,omitempty"`
	SavedAt         *time.Time `json:"saved_at,omitempty"`
	Awaiting        *Customer  `json:"awaiting,omitempty"`
}

// CallResponse is returned when a call is started. The client opens DialURI.
type CallResponse struct {
	Customer Customer `json:"customer"`
	DialURI  string   `json:"dial_uri"`
}

// Outcome is the request body for recording the result of a call. Status is a status code such
// as "called_ok", or one of the display labels.
type Outcome struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}
