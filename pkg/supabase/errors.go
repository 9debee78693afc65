package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnfilteredMutation is returned when an update or delete has no filter.
// PostgREST would apply it to every row of the table.
var ErrUnfilteredMutation = errors.New("refusing to update or delete without a filter")

// Error codes returned by PostgREST and Postgres.
const (
	CodeNoRows          = "PGRST116"
	CodeUniqueViolation = "23505"
	CodeForeignKey      = "23503"
)

// Error is the error object returned by PostgREST and GoTrue.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "supabase: status %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	return b.String()
}

// rawError covers the different error shapes of PostgREST, GoTrue and Storage.
type rawError struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Err              string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          json.RawMessage `json:"details"`
	Hint             string          `json:"hint"`
	StatusCode       string          `json:"statusCode"`
}

func parseError(resp *http.Response) *Error {
	e := &Error{Status: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var raw rawError
	if len(body) == 0 || json.Unmarshal(body, &raw) != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return e
	}

	e.Code = rawString(raw.Code)
	if raw.ErrorCode != "" {
		e.Code = raw.ErrorCode
	}
	e.Message = firstNonEmpty(raw.Message, raw.Msg, raw.ErrorDescription, raw.Err)
	e.Details = rawString(raw.Details)
	e.Hint = raw.Hint
	return e
}

// rawString returns the JSON value as plain string, numbers are kept as their text.
func rawString(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(m, &n); err == nil {
		return n.String()
	}
	return string(m)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNotFound reports whether err means the requested row or object does not exist.
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Code == CodeNoRows || e.Code == "user_not_found" || e.Status == http.StatusNotFound
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	e, ok := AsError(err)
	return ok && (e.Code == CodeUniqueViolation || e.Status == http.StatusConflict)
}

// IsUserExists reports whether GoTrue refused to create a user because the email is taken.
func IsUserExists(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code {
	case "email_exists", "user_already_exists":
		return true
	}
	return e.Status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(e.Message), "already been registered")
}

// StatusCode returns the HTTP status of a Supabase error, or 0.
func StatusCode(err error) int {
	if e, ok := AsError(err); ok {
		return e.Status
	}
	return 0
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
