// Package intwebtest provides an in-process fake intweb server for tests.
//
// The server checks device names and checksums with the real canonical and
// checksum packages, issues single-use nonces and answers access requests
// from an allow list. Behavior injects failures.
package intwebtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hive13/doorctl/pkg/canonical"
	"github.com/hive13/doorctl/pkg/checksum"
)

// Behavior injects failures and overrides into replies.
type Behavior struct {
	// NonceStatus and AccessStatus replace the HTTP status of replies.
	NonceStatus  int
	AccessStatus int

	// NonceFailures makes the first n get_nonce requests answer HTTP 500.
	NonceFailures int

	// NonceError and AccessError set data.error in replies.
	NonceError  string
	AccessError string

	// NonceValid overrides nonce validation in access replies.
	NonceValid *bool

	// Access overrides the allow list decision.
	Access *bool

	// Reject answers every request with "response": false and this text.
	Reject string

	// Body replaces the reply body verbatim.
	Body string

	// SingleNonce revokes outstanding nonces whenever a new one is issued,
	// as intweb does.
	SingleNonce bool

	// Delay is slept before answering.
	Delay time.Duration
}

// Request is a request as seen by the server.
type Request struct {
	Operation      string
	Device         string
	Nonce          string
	Item           string
	Badge          uint64
	RandomResponse []int
	Version        int
	Data           []byte
	ChecksumOK     bool
	Canonical      bool
}

// Server is a fake intweb endpoint.
type Server struct {
	srv    *httptest.Server
	device string
	key    []byte
	engine checksum.Engine

	mu       sync.Mutex
	behavior Behavior
	allowed  map[uint64][]string
	nonces   map[string]bool
	issued     int
	superseded int
	requests   []Request
}

// New starts a server that accepts device with key, and stops it when
// the test ends.
func New(t testing.TB, device string, key []byte) *Server {
	t.Helper()
	s := &Server{
		device:  device,
		key:     append([]byte(nil), key...),
		engine:  checksum.Default,
		allowed: make(map[uint64][]string),
		nonces:  make(map[string]bool),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the access endpoint.
func (s *Server) URL() string {
	return s.srv.URL + "/api/access"
}

// SetEngine changes the checksum engine used to verify requests.
func (s *Server) SetEngine(e checksum.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// SetBehavior replaces the injected behavior.
func (s *Server) SetBehavior(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = b
}

// Allow grants badge access to items.
func (s *Server) Allow(badge uint64, items ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[badge] = append(s.allowed[badge], items...)
}

// Requests returns all requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Count returns the number of requests for operation op.
func (s *Server) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Operation == op {
			n++
		}
	}
	return n
}

// Superseded returns how many unspent nonces were revoked by a later
// get_nonce under SingleNonce.
func (s *Server) Superseded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}

type envelope struct {
	Device   string          `json:"device"`
	Data     json.RawMessage `json:"data"`
	Checksum string          `json:"checksum"`
}

type requestData struct {
	Operation      string `json:"operation"`
	Version        int    `json:"version"`
	RandomResponse []int  `json:"random_response"`
	Nonce          string `json:"nonce"`
	Item           string `json:"item"`
	Badge          uint64 `json:"badge"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var data requestData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		http.Error(w, "bad data", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	b := s.behavior
	engine := s.engine
	s.mu.Unlock()

	ok, _ := checksum.Verify(engine, s.key, env.Data, env.Checksum)
	req := Request{
		Operation:      data.Operation,
		Device:         env.Device,
		Nonce:          data.Nonce,
		Item:           data.Item,
		Badge:          data.Badge,
		RandomResponse: data.RandomResponse,
		Version:        data.Version,
		Data:           append([]byte(nil), env.Data...),
		ChecksumOK:     ok,
		Canonical:      isCanonical(env.Data),
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case b.Body != "":
		writeRaw(w, http.StatusOK, b.Body)
	case b.Reject != "":
		writeJSON(w, http.StatusOK, map[string]any{"response": false, "data": b.Reject})
	case env.Device != s.device:
		writeJSON(w, http.StatusOK, map[string]any{"response": false, "data": "Unknown device"})
	case !req.ChecksumOK:
		writeJSON(w, http.StatusOK, map[string]any{"response": false, "data": "Invalid checksum"})
	case data.Operation == "get_nonce":
		s.answerNonce(w, b)
	case data.Operation == "access":
		s.answerAccess(w, b, req)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"response": false, "data": "Unknown operation"})
	}
}

func (s *Server) answerNonce(w http.ResponseWriter, b Behavior) {
	s.mu.Lock()
	s.issued++
	n := s.issued
	failing := n <= b.NonceFailures
	nonce := "N" + strconv.Itoa(n) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if !failing && b.NonceStatus == 0 && b.NonceError == "" {
		if b.SingleNonce {
			s.superseded += len(s.nonces)
			clear(s.nonces)
		}
		s.nonces[nonce] = true
	}
	s.mu.Unlock()

	switch {
	case failing:
		writeRaw(w, http.StatusInternalServerError, "Internal Server Error")
	case b.NonceStatus != 0:
		writeRaw(w, b.NonceStatus, http.StatusText(b.NonceStatus))
	case b.NonceError != "":
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"error": b.NonceError, "response": true}})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"new_nonce": nonce, "response": true}})
	}
}

func (s *Server) answerAccess(w http.ResponseWriter, b Behavior, req Request) {
	if b.AccessStatus != 0 {
		writeRaw(w, b.AccessStatus, http.StatusText(b.AccessStatus))
		return
	}

	s.mu.Lock()
	valid := s.nonces[req.Nonce]
	delete(s.nonces, req.Nonce)
	access := slices.Contains(s.allowed[req.Badge], req.Item)
	s.mu.Unlock()

	if b.NonceValid != nil {
		valid = *b.NonceValid
	}
	if b.Access != nil {
		access = *b.Access
	}

	reply := map[string]any{
		"nonce_valid": valid,
		"access":      access,
		"response":    true,
		"error":       nil,
	}
	if b.AccessError != "" {
		reply["error"] = b.AccessError
	}
	if !access {
		reply["data"] = fmt.Sprintf("badge %d has no access to %s", req.Badge, req.Item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reply})
}

func isCanonical(raw []byte) bool {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return false
	}
	out, err := canonical.Marshal(v)
	return err == nil && bytes.Equal(out, raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
