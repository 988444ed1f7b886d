// Package telephony issues dial requests for customer phone numbers.
package telephony

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/normalize"
)

// Dialer asks something outside the service to call a number. It is fire and forget: nothing
// about the outcome of the dial is reported back.
type Dialer interface {
	Dial(ctx context.Context, uri string)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, uri string)

func (f DialerFunc) Dial(ctx context.Context, uri string) {
	f(ctx, uri)
}

// DialURI returns the tel: URI for a phone number, using the display format.
func DialURI(phone string) string {
	return "tel:" + normalize.FormatPhoneForDisplay(normalize.CanonicalizePhone(phone))
}

// LogDialer records the dial request in the log. The client that triggered the call opens the
// returned URI itself.
type LogDialer struct {
	logger *zap.Logger
}

func NewLogDialer(logger *zap.Logger) *LogDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDialer{logger: logger}
}

func (d *LogDialer) Dial(_ context.Context, uri string) {
	d.logger.Info("dial requested", zap.String("uri", uri))
}
