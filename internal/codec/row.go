// Package codec converts between spreadsheet rows and customer records.
package codec

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gitlab.com/dirk.krummacker/calllist-service/internal/apperrors"
	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
	"gitlab.com/dirk.krummacker/calllist-service/internal/normalize"
)

// Column names of the import and export sheets.
const (
	ColumnID       = "ID"
	ColumnName     = "Tên"
	ColumnPhone    = "SĐT"
	ColumnLastCall = "Last-call"
	ColumnStatus   = "Trạng thái"
	ColumnNote     = "Note"
)

// Header is the column order used when writing sheets.
var Header = []string{ColumnID, ColumnName, ColumnPhone, ColumnLastCall, ColumnStatus, ColumnNote}

// NoDate is written for a customer that was never called.
const NoDate = "-"

// Row is one spreadsheet row keyed by column name.
type Row map[string]string

func (r Row) get(column string) string {
	return strings.TrimSpace(r[column])
}

// Codec decodes and encodes rows. Dates are interpreted in its location.
type Codec struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Codec working in loc. A nil loc means time.Local and a nil now
// means time.Now.
func New(loc *time.Location, now func() time.Time) *Codec {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{loc: loc, now: now}
}

// DecodeRow validates one row and turns it into a Customer. The returned error
// is always a *apperrors.RowError. An empty ID is left for the caller to assign.
func (c *Codec) DecodeRow(row Row, rowNumber int) (model.Customer, error) {
	name := row.get(ColumnName)
	if name == "" {
		return model.Customer{}, &apperrors.RowError{Row: rowNumber, Err: apperrors.ErrMissingName}
	}
	phone := row.get(ColumnPhone)
	if phone == "" {
		return model.Customer{}, &apperrors.RowError{Row: rowNumber, Err: apperrors.ErrMissingPhone}
	}
	if !normalize.ValidatePhone(phone) {
		return model.Customer{}, &apperrors.RowError{Row: rowNumber, Err: apperrors.ErrInvalidPhone}
	}

	var lastCall *time.Time
	if raw := row.get(ColumnLastCall); raw != "" && raw != NoDate {
		t, err := ParseDate(raw, c.loc)
		if err != nil {
			return model.Customer{}, &apperrors.RowError{Row: rowNumber, Err: apperrors.ErrInvalidDate}
		}
		lastCall = &t
	}

	return model.Customer{
		ID:        row.get(ColumnID),
		Name:      name,
		Phone:     normalize.CanonicalizePhone(phone),
		LastCall:  lastCall,
		Status:    normalize.ClassifyStatus(row[ColumnStatus]),
		Note:      row.get(ColumnNote),
		CreatedAt: c.now().In(c.loc),
	}, nil
}

// DecodeSheet decodes every data row in order. The first data row is row 2.
// Bad rows are reported and skipped; they never stop the import.
func (c *Codec) DecodeSheet(rows []Row) model.ImportResult {
	result := model.ImportResult{
		Valid:  []model.Customer{},
		Errors: []model.RowIssue{},
	}
	for i, row := range rows {
		customer, err := c.DecodeRow(row, i+2)
		if err != nil {
			var rowErr *apperrors.RowError
			if errors.As(err, &rowErr) {
				result.Errors = append(result.Errors, model.RowIssue{Row: rowErr.Row, Message: rowErr.Err.Error()})
				continue
			}
			result.Errors = append(result.Errors, model.RowIssue{Row: i + 2, Message: err.Error()})
			continue
		}
		result.Valid = append(result.Valid, customer)
	}
	return result
}

// EncodeCustomer produces the display row of a customer.
func (c *Codec) EncodeCustomer(customer model.Customer) Row {
	return Row{
		ColumnID:       customer.ID,
		ColumnName:     customer.Name,
		ColumnPhone:    customer.Phone,
		ColumnLastCall: FormatDate(customer.LastCall, c.loc),
		ColumnStatus:   normalize.Label(customer.Status),
		ColumnNote:     customer.Note,
	}
}

// ParseDate parses DD/MM/YYYY (single digit day and month are accepted) into
// midnight of that day in loc. The year must be at least 2000 and the date must
// exist in the calendar.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, apperrors.ErrInvalidDate
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, apperrors.ErrInvalidDate
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]
	if year < 2000 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, apperrors.ErrInvalidDate
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, apperrors.ErrInvalidDate
	}
	return t, nil
}

// FormatDate renders t as DD/MM/YYYY in loc, or NoDate when t is nil.
func FormatDate(t *time.Time, loc *time.Location) string {
	if t == nil {
		return NoDate
	}
	return t.In(loc).Format("02/01/2006")
}
