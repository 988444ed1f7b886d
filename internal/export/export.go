// Package export turns the customer set back into spreadsheet rows.
package export

import (
	"fmt"
	"io"
	"time"

	"gitlab.com/dirk.krummacker/calllist-service/internal/codec"
	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
)

// DefaultPrefix is used for file names when no prefix is configured.
const DefaultPrefix = "CallToDie"

// Export is a set of rows together with the suggested file name.
type Export struct {
	FileName string
	Rows     []codec.Row
}

// Write writes the rows as an xlsx workbook.
func (e Export) Write(w io.Writer) error {
	return codec.WriteWorkbook(w, e.Rows)
}

// Composer builds exports and the import template.
type Composer struct {
	codec  *codec.Codec
	prefix string
}

func NewComposer(c *codec.Codec, prefix string) *Composer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Composer{codec: c, prefix: prefix}
}

// ExportAll encodes every customer in the given order. It does not modify customers.
func (c *Composer) ExportAll(customers []model.Customer, now time.Time) Export {
	rows := make([]codec.Row, len(customers))
	for i, customer := range customers {
		rows[i] = c.codec.EncodeCustomer(customer)
	}
	return Export{FileName: c.ExportFileName(now), Rows: rows}
}

// ExportFileName is <prefix>_Export_<YYYY-MM-DD>.xlsx for the calendar day of now.
func (c *Composer) ExportFileName(now time.Time) string {
	return fmt.Sprintf("%s_Export_%s.xlsx", c.prefix, now.Format(time.DateOnly))
}

// Template returns the empty import sheet with a few sample rows.
func (c *Composer) Template() Export {
	return Export{
		FileName: c.prefix + "_Template.xlsx",
		Rows: []codec.Row{
			{codec.ColumnName: "Nguyễn Văn A", codec.ColumnPhone: "0901234567", codec.ColumnNote: "Khách hàng tiềm năng"},
			{
				codec.ColumnName:     "Trần Thị B",
				codec.ColumnPhone:    "0912345678",
				codec.ColumnLastCall: "03/11/2025",
				codec.ColumnStatus:   "Gọi được",
				codec.ColumnNote:     "Hẹn gọi lại chiều",
			},
			{
				codec.ColumnName:     "Lê Văn C",
				codec.ColumnPhone:    "0923456789",
				codec.ColumnLastCall: "02/11/2025",
				codec.ColumnStatus:   "Không gọi được",
				codec.ColumnNote:     "Máy bận",
			},
		},
	}
}
