package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
)

// labelFamily maps a set of free-text markers onto one status.
type labelFamily struct {
	status  model.Status
	markers []string
	exact   []string
	// negatable markers do not count when directly preceded by a negation word.
	negatable bool
}

// families are checked in this order; the first family with a match wins.
var families = []labelFamily{
	{
		status:    model.StatusCalledOK,
		markers:   []string{"gọi được", "goi duoc"},
		exact:     []string{"ok"},
		negatable: true,
	},
	{
		status:  model.StatusUnreachable,
		markers: []string{"không gọi", "khong goi", "ko goi", "máy bận", "may ban"},
	},
	{
		status:  model.StatusWrongNumber,
		markers: []string{"sai số", "sai so", "không tồn tại", "khong ton tai"},
	},
}

// negations are words that turn a success marker into its opposite.
var negations = []string{"không", "khong", "ko", "chưa", "chua"}

// ClassifyStatus maps a free-text status label onto a Status. Matching is
// case-insensitive, ignores surrounding whitespace and is done on the NFC form
// of the label. Unmatched or empty labels yield StatusNone.
func ClassifyStatus(raw string) model.Status {
	label := NormalizeLabel(raw)
	if label == "" {
		return model.StatusNone
	}
	for _, f := range families {
		if f.matches(label) {
			return f.status
		}
	}
	return model.StatusNone
}

// NormalizeLabel trims, lower-cases and NFC-normalizes a label.
func NormalizeLabel(raw string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(raw)))
}

func (f labelFamily) matches(label string) bool {
	for _, e := range f.exact {
		if label == e {
			return true
		}
	}
	for _, m := range f.markers {
		if f.negatable {
			if containsAffirmed(label, m) {
				return true
			}
			continue
		}
		if strings.Contains(label, m) {
			return true
		}
	}
	return false
}

// containsAffirmed reports whether marker occurs in label at least once
// without a negation word right in front of it.
func containsAffirmed(label, marker string) bool {
	offset := 0
	for {
		idx := strings.Index(label[offset:], marker)
		if idx < 0 {
			return false
		}
		start := offset + idx
		if !negated(label[:start]) {
			return true
		}
		offset = start + len(marker)
	}
}

func negated(prefix string) bool {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	for _, n := range negations {
		if last == n {
			return true
		}
	}
	return false
}

// Label returns the display label of a status.
func Label(s model.Status) string {
	switch s {
	case model.StatusCalledOK:
		return "Gọi được"
	case model.StatusUnreachable:
		return "Không gọi được"
	case model.StatusWrongNumber:
		return "Sai số"
	default:
		return "Chưa gọi"
	}
}

// Color returns the display color of a status.
func Color(s model.Status) string {
	switch s {
	case model.StatusCalledOK:
		return "#22c55e"
	case model.StatusUnreachable:
		return "#eab308"
	case model.StatusWrongNumber:
		return "#ef4444"
	default:
		return "#9ca3af"
	}
}

// Icon returns the display icon of a status.
func Icon(s model.Status) string {
	switch s {
	case model.StatusCalledOK:
		return "🟢"
	case model.StatusUnreachable:
		return "🟡"
	case model.StatusWrongNumber:
		return "🔴"
	default:
		return "⚪"
	}
}
