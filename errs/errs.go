// Package errs provides the structured error envelope used across the trade connector.
//
// An *E renders as
//
//	<exchange> <code>[/<canonical>]: <message> (http <status>, venue <raw code>: <raw message>) [k=v ...]: <cause>
//
// with empty parts omitted.
package errs

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Code is the transport-level failure class.
type Code string

const (
	CodeRateLimited Code = "rate_limited"
	CodeAuth        Code = "auth"
	// CodeInvalid covers caller input the venue refused and unrecognized venue payloads.
	CodeInvalid     Code = "invalid_request"
	CodeExchange    Code = "exchange_error"
	CodeNetwork     Code = "network"
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode is the venue-independent meaning of a failure.
type CanonicalCode string

const (
	CanonicalUnknown             CanonicalCode = "unknown"
	CanonicalOrderNotFound       CanonicalCode = "order_not_found"
	CanonicalInsufficientBalance CanonicalCode = "insufficient_balance"
	CanonicalInvalidSymbol       CanonicalCode = "invalid_symbol"
	CanonicalRateLimited         CanonicalCode = "rate_limited"
	// CanonicalUnknownStatus marks an order status outside the mapped vocabulary.
	CanonicalUnknownStatus CanonicalCode = "unknown_status"
	CanonicalMissingParam  CanonicalCode = "missing_param"
	// CanonicalInitFailed marks a failed listen key acquisition or open order snapshot.
	CanonicalInitFailed CanonicalCode = "init_failed"
	// CanonicalRenewalEscalation marks repeated consecutive listen key renewal failures.
	CanonicalRenewalEscalation CanonicalCode = "renewal_escalation"
)

// E is the error envelope. Fields holds request context such as the endpoint.
type E struct {
	Exchange  string
	Code      Code
	Canonical CanonicalCode
	HTTP      int
	RawCode   string
	RawMsg    string
	Message   string
	Fields    map[string]string

	cause error
}

// Option mutates an envelope under construction.
type Option func(*E)

// New builds an envelope. Canonical defaults to CanonicalUnknown.
func New(exchange string, code Code, opts ...Option) *E {
	e := &E{Exchange: strings.TrimSpace(exchange), Code: code, Canonical: CanonicalUnknown}
	for _, apply := range opts {
		if apply != nil {
			apply(e)
		}
	}
	return e
}

func WithMessage(message string) Option {
	message = strings.TrimSpace(message)
	return func(e *E) { e.Message = message }
}

func WithHTTP(status int) Option {
	return func(e *E) { e.HTTP = status }
}

// WithRawCode records the venue's own error code.
func WithRawCode(code string) Option {
	code = strings.TrimSpace(code)
	return func(e *E) { e.RawCode = code }
}

// WithRawMessage records the venue's message or offending value verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) { e.RawMsg = msg }
}

func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithCanonicalCode sets the canonical meaning. A blank code keeps CanonicalUnknown.
func WithCanonicalCode(code CanonicalCode) Option {
	code = CanonicalCode(strings.TrimSpace(string(code)))
	return func(e *E) {
		if code == "" {
			code = CanonicalUnknown
		}
		e.Canonical = code
	}
}

// WithField attaches one context pair. Blank keys are ignored.
func WithField(key, value string) Option {
	key = strings.TrimSpace(key)
	return func(e *E) {
		if key == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = map[string]string{}
		}
		e.Fields[key] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(orUnknown(e.Exchange))
	b.WriteByte(' ')
	b.WriteString(orUnknown(string(e.Code)))
	if e.Canonical != "" && e.Canonical != CanonicalUnknown {
		b.WriteByte('/')
		b.WriteString(string(e.Canonical))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var venue []string
	if e.HTTP > 0 {
		venue = append(venue, "http "+strconv.Itoa(e.HTTP))
	}
	switch {
	case e.RawCode != "" && e.RawMsg != "":
		venue = append(venue, "venue "+e.RawCode+": "+strconv.Quote(e.RawMsg))
	case e.RawCode != "":
		venue = append(venue, "venue "+e.RawCode)
	case e.RawMsg != "":
		venue = append(venue, "venue "+strconv.Quote(e.RawMsg))
	}
	if len(venue) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(venue, ", "))
		b.WriteByte(')')
	}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" " + k + "=" + e.Fields[k])
		}
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error { return e.cause }

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

// CodeFromHTTP classifies an HTTP status returned by the venue.
func CodeFromHTTP(status int) Code {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuth
	case status == http.StatusNotFound:
		return CodeNotFound
	case status >= 500:
		return CodeExchange
	case status >= 400:
		return CodeInvalid
	default:
		return CodeExchange
	}
}

// CanonicalFromBinance maps Binance numeric error codes onto canonical categories.
func CanonicalFromBinance(rawCode int, msg string) CanonicalCode {
	switch rawCode {
	case -2011, -2013:
		return CanonicalOrderNotFound
	case -1121:
		return CanonicalInvalidSymbol
	case -1003, -1015:
		return CanonicalRateLimited
	case -2010:
		if strings.Contains(strings.ToLower(msg), "insufficient balance") {
			return CanonicalInsufficientBalance
		}
	}
	return CanonicalUnknown
}

// UnknownStatus reports an order status outside the known venue vocabulary.
func UnknownStatus(exchange, status string) *E {
	return New(exchange, CodeInvalid,
		WithMessage("unrecognized order status"),
		WithRawMessage(status),
		WithCanonicalCode(CanonicalUnknownStatus))
}

// MissingParam reports a required parameter that was not supplied.
func MissingParam(exchange, param string) *E {
	return New(exchange, CodeInvalid,
		WithMessage("param "+strings.TrimSpace(param)+" miss"),
		WithCanonicalCode(CanonicalMissingParam))
}

// HasCanonical reports whether err wraps an *E carrying the canonical code.
func HasCanonical(err error, code CanonicalCode) bool {
	var e *E
	return errors.As(err, &e) && e.Canonical == code
}

// HasCode reports whether err wraps an *E carrying the transport code.
func HasCode(err error, code Code) bool {
	var e *E
	return errors.As(err, &e) && e.Code == code
}
