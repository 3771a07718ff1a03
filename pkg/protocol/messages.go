package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"strings"
)

// Protocol constants.
const (
	// ProtocolVersion is the intweb access protocol version spoken.
	ProtocolVersion = 2

	// RandomResponseLen is the number of values in a RandomResponse.
	RandomResponseLen = 16

	// DefaultItem is the access item for the front door.
	DefaultItem = "main_door"
)

// Operation names.
const (
	OpGetNonce = "get_nonce"
	OpAccess   = "access"
)

// RandomResponse is per-request random padding: RandomResponseLen values in
// [0, 255]. It is never reused or persisted.
type RandomResponse []int

// NewRandomResponse draws a fresh RandomResponse from crypto/rand.
func NewRandomResponse() RandomResponse {
	var raw [RandomResponseLen]byte
	_, _ = rand.Read(raw[:]) // never fails since Go 1.24
	rr := make(RandomResponse, RandomResponseLen)
	for i, b := range raw {
		rr[i] = int(b)
	}
	return rr
}

// Valid reports whether rr has the expected length and range.
func (rr RandomResponse) Valid() bool {
	if len(rr) != RandomResponseLen {
		return false
	}
	for _, v := range rr {
		if v < 0 || v > 255 {
			return false
		}
	}
	return true
}

// GetNonceRequest is the data body of a get_nonce message.
type GetNonceRequest struct {
	Operation      string         `json:"operation"`
	Version        int            `json:"version"`
	RandomResponse RandomResponse `json:"random_response"`
}

// AccessRequest is the data body of an access message.
type AccessRequest struct {
	Operation      string         `json:"operation"`
	Version        int            `json:"version"`
	RandomResponse RandomResponse `json:"random_response"`
	Nonce          string         `json:"nonce"`
	Item           string         `json:"item"`
	Badge          uint64         `json:"badge"`
}

// Message is the signed envelope POSTed to intweb. Data holds the exact
// canonical bytes the checksum was computed over.
type Message struct {
	Device   string          `json:"device"`
	Data     json.RawMessage `json:"data"`
	Checksum string          `json:"checksum"`
}

// Encode returns the JSON envelope without altering the bytes of Data.
func (m Message) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Response is the outer intweb reply envelope.
//
// Older server paths signal a generic rejection with "response": false and
// a bare string in data; normal replies carry an object in data.
type Response struct {
	Data     json.RawMessage `json:"data"`
	Response *bool           `json:"response"`
}

// ResponseData holds the fields of the data object used by get_nonce and
// access replies. Not every field is present in every reply.
type ResponseData struct {
	NewNonce   string          `json:"new_nonce"`
	NonceValid *bool           `json:"nonce_valid"`
	Access     bool            `json:"access"`
	Error      json.RawMessage `json:"error"`
	Response   *bool           `json:"response"`
	Detail     json.RawMessage `json:"data"`
}

// ErrorMessage returns the server-reported error and true when the error
// field is present and not null.
func (d *ResponseData) ErrorMessage() (string, bool) {
	return rawText(d.Error)
}

// DetailMessage returns the free-form data field, if any.
func (d *ResponseData) DetailMessage() string {
	msg, _ := rawText(d.Detail)
	return msg
}

// rawText renders a raw JSON value as text: strings are unquoted, null or
// absent reports false, anything else is returned verbatim.
func rawText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	return strings.TrimSpace(string(trimmed)), true
}

// AccessDecision is the validated result of an access request.
type AccessDecision struct {
	// NonceValid is true when intweb accepted the nonce.
	NonceValid bool

	// Access is the server's grant decision.
	Access bool

	// Error carries any reason text the server attached to a denial.
	Error string
}

// Granted reports whether the door may open. A decision with an invalid
// nonce never grants, whatever Access says.
func (d AccessDecision) Granted() bool {
	return d.NonceValid && d.Access
}
