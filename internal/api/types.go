package api

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Envelope wraps every API response: {data, status, message, timestamp}.
type Envelope struct {
	Data      json.RawMessage `json:"data"`
	Status    Status          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Time parses the envelope timestamp, zero if absent or malformed.
func (e Envelope) Time() time.Time {
	if e.Timestamp == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Failed reports whether the envelope status signals an error even though
// the HTTP exchange succeeded.
func (e Envelope) Failed() bool {
	return e.Status.Failed()
}

// Empty reports whether the envelope carries no data.
func (e Envelope) Empty() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// Status is the envelope status. Upstream sends either a word
// ("success", "error") or an HTTP-style number.
type Status string

// UnmarshalJSON accepts strings and numbers.
func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Status(str)
		return nil
	}
	*s = Status(data)
	return nil
}

// Failed reports whether s is an error status.
func (s Status) Failed() bool {
	switch strings.ToLower(string(s)) {
	case "error", "fail", "failed", "failure":
		return true
	}
	if n, err := strconv.Atoi(string(s)); err == nil {
		return n >= 400
	}
	return false
}
