// Package operations implements the tool operations exposed to agents: the
// permission checks, the confirmation protocol for destructive actions and
// the translation of backend data into tagged results.
package operations

import (
	"fmt"
	"strings"
)

// Error codes carried by Error results. Automated callers branch on these.
const (
	CodePermissionDenied         = "PERMISSION_DENIED"
	CodeNamespaceDenied          = "NAMESPACE_DENIED"
	CodeValidation               = "VALIDATION_ERROR"
	CodeArgoAPI                  = "ARGO_API_ERROR"
	CodeNotFound                 = "NOT_FOUND"
	CodeNoActiveConnection       = "NO_ACTIVE_CONNECTION"
	CodeConnection               = "CONNECTION_ERROR"
	CodeInvalidConfirmationToken = "INVALID_CONFIRMATION_TOKEN"
	CodeSettings                 = "SETTINGS_ERROR"
)

const separatorLength = 50

// Result is the outcome of an operation. The concrete types are Success,
// DryRun, NeedsConfirmation, Error and Cancelled; the set is closed.
type Result interface {
	// Failed reports whether the result should be surfaced as an error.
	Failed() bool
	// String renders the result as plain text for the agent.
	String() string

	isResult()
}

// Field is one key/value line of a Success result.
type Field struct {
	Key   string
	Value string
}

// Fields keeps insertion order so rendering is deterministic.
type Fields []Field

// Add appends a field.
func (f *Fields) Add(key, value string) {
	*f = append(*f, Field{Key: key, Value: value})
}

// Get returns the first value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

type Success struct {
	Message string
	Data    Fields
}

type DryRun struct {
	Preview      string
	Instructions string
}

type NeedsConfirmation struct {
	Preview string
	Token   string
}

type Error struct {
	Message string
	Code    string
}

type Cancelled struct {
	Reason string
}

func (Success) isResult()           {}
func (DryRun) isResult()            {}
func (NeedsConfirmation) isResult() {}
func (Error) isResult()             {}
func (Cancelled) isResult()         {}

func (Success) Failed() bool           { return false }
func (DryRun) Failed() bool            { return false }
func (NeedsConfirmation) Failed() bool { return false }
func (Error) Failed() bool             { return true }
func (Cancelled) Failed() bool         { return false }

func (r Success) String() string {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString("\n")
	if len(r.Data) > 0 {
		b.WriteString("\n")
		for _, f := range r.Data {
			fmt.Fprintf(&b, "%s: %s\n", f.Key, f.Value)
		}
	}
	return b.String()
}

func (r DryRun) String() string {
	return banner("DRY RUN MODE", r.Preview, r.Instructions)
}

func (r NeedsConfirmation) String() string {
	return banner("CONFIRMATION REQUIRED", r.Preview, "Token: "+r.Token)
}

func (r Error) String() string {
	return fmt.Sprintf("ERROR [%s]: %s", r.Code, r.Message)
}

func (r Cancelled) String() string {
	return "CANCELLED: " + r.Reason
}

func banner(title, body, footer string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", separatorLength))
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(footer)
	b.WriteString("\n")
	return b.String()
}

// Errorf builds an Error result.
func Errorf(code, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
