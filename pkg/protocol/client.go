package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hive13/doorctl/pkg/canonical"
	"github.com/hive13/doorctl/pkg/checksum"
	"github.com/hive13/doorctl/pkg/log"
)

// Default client settings.
const (
	// DefaultTimeout bounds a single HTTP exchange with intweb.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxResponseSize is the largest reply body accepted.
	DefaultMaxResponseSize = 64 * 1024
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the intweb access endpoint, including /api/access.
	URL string

	// Timeout bounds each HTTP exchange. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient performs requests. Nil uses a client without its own
	// timeout; Timeout is applied through the request context.
	HTTPClient *http.Client

	// Engine computes message checksums. Nil uses checksum.Default.
	Engine checksum.Engine

	// Logger receives protocol capture events. Nil disables capture.
	Logger log.Logger

	// MaxResponseSize limits reply bodies. Zero uses DefaultMaxResponseSize.
	MaxResponseSize int64
}

// DefaultClientConfig returns a configuration with default limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         DefaultTimeout,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// Client speaks the intweb access protocol over HTTP.
//
// A Client holds no per-attempt state and is safe for concurrent use.
type Client struct {
	url             string
	timeout         time.Duration
	httpClient      *http.Client
	engine          checksum.Engine
	logger          log.Logger
	maxResponseSize int64
}

// NewClient creates a client for the intweb endpoint in cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Engine == nil {
		cfg.Engine = checksum.Default
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	return &Client{
		url:             cfg.URL,
		timeout:         cfg.Timeout,
		httpClient:      cfg.HTTPClient,
		engine:          cfg.Engine,
		logger:          log.OrNoop(cfg.Logger),
		maxResponseSize: cfg.MaxResponseSize,
	}, nil
}

// URL returns the intweb endpoint.
func (c *Client) URL() string {
	return c.url
}

// Engine returns the checksum engine in use.
func (c *Client) Engine() checksum.Engine {
	return c.engine
}

// exchangeMeta describes a request for protocol capture.
type exchangeMeta struct {
	op    string
	item  string
	nonce string
	badge uint64
}

// sign builds the envelope for body. The checksum covers the canonical
// encoding of body, and the same bytes are sent as data.
func (c *Client) sign(id DeviceIdentity, body any) ([]byte, error) {
	data, err := canonical.Marshal(body)
	if err != nil {
		return nil, err
	}
	sum, err := c.engine.Sum(id.secret, data)
	if err != nil {
		return nil, fmt.Errorf("protocol: checksum: %w", err)
	}
	return Message{
		Device:   id.name,
		Data:     data,
		Checksum: sum,
	}.Encode()
}

// exchange signs body, POSTs it and returns the HTTP status and reply.
// Only failures to complete the exchange are returned as errors; the
// caller judges the status code.
func (c *Client) exchange(ctx context.Context, id DeviceIdentity, meta exchangeMeta, body any) (int, []byte, error) {
	payload, err := c.sign(id, body)
	if err != nil {
		c.logError(ctx, id, meta, err)
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, &TransportError{Op: meta.op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logMessage(ctx, id, meta, log.DirectionOut, 0, payload, nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{Op: meta.op, Err: err}
		c.logError(ctx, id, meta, terr)
		return 0, nil, terr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	rtt := time.Since(start)
	if err != nil {
		terr := &TransportError{Op: meta.op, Err: err}
		c.logError(ctx, id, meta, terr)
		return 0, nil, terr
	}
	c.logMessage(ctx, id, meta, log.DirectionIn, resp.StatusCode, raw, &rtt)

	if int64(len(raw)) > c.maxResponseSize {
		perr := &ProtocolError{
			Op:         meta.op,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("reply exceeds %d bytes", c.maxResponseSize),
			Raw:        raw[:c.maxResponseSize],
		}
		c.logError(ctx, id, meta, perr)
		return resp.StatusCode, nil, perr
	}
	return resp.StatusCode, raw, nil
}

// decode parses a reply envelope into its data object. A "response":
// false rejection, in the envelope or in data, is returned as a
// *ServerError together with the data object when one could be read, so
// callers can still look at nonce_valid first.
func decode(op string, status int, raw []byte) (*ResponseData, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: status, Reason: "undecodable reply", Raw: raw, Err: err}
	}
	rejected := resp.Response != nil && !*resp.Response

	var data ResponseData
	trimmed := bytes.TrimSpace(resp.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if rejected {
			msg, _ := rawText(resp.Data)
			return nil, &ServerError{Op: op, Message: msg}
		}
		return nil, &ProtocolError{Op: op, StatusCode: status, Reason: "reply has no data object", Raw: raw}
	}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		if rejected {
			return nil, &ServerError{Op: op, Message: string(trimmed)}
		}
		return nil, &ProtocolError{Op: op, StatusCode: status, Reason: "undecodable data object", Raw: raw, Err: err}
	}
	if rejected || (data.Response != nil && !*data.Response) {
		return &data, &ServerError{Op: op, Message: data.DetailMessage()}
	}
	return &data, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func (c *Client) logMessage(ctx context.Context, id DeviceIdentity, meta exchangeMeta, dir log.Direction, status int, body []byte, rtt *time.Duration) {
	msg := &log.MessageEvent{
		Operation:  meta.op,
		Item:       meta.item,
		Nonce:      meta.nonce,
		HTTPStatus: status,
		Duration:   rtt,
	}
	msg.SetBody(body)
	c.logger.Log(log.Event{
		Timestamp:  time.Now(),
		AttemptID:  AttemptIDFromContext(ctx),
		Direction:  dir,
		Layer:      log.LayerTransport,
		Category:   log.CategoryMessage,
		Device:     id.name,
		RemoteAddr: c.url,
		Badge:      meta.badge,
		Message:    msg,
	})
}

func (c *Client) logError(ctx context.Context, id DeviceIdentity, meta exchangeMeta, err error) {
	c.logger.Log(log.Event{
		Timestamp:  time.Now(),
		AttemptID:  AttemptIDFromContext(ctx),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		Device:     id.name,
		RemoteAddr: c.url,
		Badge:      meta.badge,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Kind:    Kind(err),
			Context: meta.op,
		},
	})
}
