// Package errs provides structured error types shared across the ledgerlens engine.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a reconciliation error category.
type Code string

const (
	// CodeMissingTokenMapping indicates a trade fill whose outcome token could
	// not be resolved to a (condition, outcome) pair. The event is dropped and
	// counted toward the coverage gap.
	CodeMissingTokenMapping Code = "missing_token_mapping"
	// CodeMalformedIndexSet indicates a lifecycle event with an empty or
	// unparseable outcome index set.
	CodeMalformedIndexSet Code = "malformed_index_set"
	// CodeNegativeInventory indicates a consuming event that exceeded the held
	// quantity before phantom inference.
	CodeNegativeInventory Code = "negative_inventory"
	// CodeResolutionAmbiguous indicates a payout vector that does not identify
	// exactly one winning outcome.
	CodeResolutionAmbiguous Code = "resolution_ambiguous"
	// CodeUpstreamUnavailable indicates a fetch-stage failure. This is the only
	// code fatal to a wallet computation; callers retry with backoff.
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_input"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the ledgerlens stack.
type E struct {
	Scope       string
	Code        Code
	Message     string
	Wallet      string
	ConditionID string
	Fields      map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:       strings.TrimSpace(scope),
		Code:        code,
		Message:     "",
		Wallet:      "",
		ConditionID: "",
		Fields:      nil,
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithWallet records the wallet the error pertains to.
func WithWallet(wallet string) Option {
	trimmed := strings.TrimSpace(wallet)
	return func(e *E) {
		e.Wallet = trimmed
	}
}

// WithCondition records the condition the error pertains to.
func WithCondition(conditionID string) Option {
	trimmed := strings.TrimSpace(conditionID)
	return func(e *E) {
		e.ConditionID = trimmed
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Wallet != "" {
		parts = append(parts, "wallet="+e.Wallet)
	}
	if e.ConditionID != "" {
		parts = append(parts, "condition="+e.ConditionID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err (or any envelope in its chain) carries the code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var envelope *E
		if !errors.As(err, &envelope) {
			return false
		}
		if envelope.Code == code {
			return true
		}
		err = envelope.Unwrap()
	}
	return false
}

// CodeOf returns the code of the outermost envelope in the chain, or the empty
// string when err carries none.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}
