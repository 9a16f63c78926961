package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/device"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	maxHTTPResponse    = 64 * 1024

	// HeaderCommandID carries the command ID on HTTP downlink requests.
	HeaderCommandID = "X-Command-ID"
)

// httpCommandBody is the JSON body POSTed to HTTP devices.
type httpCommandBody struct {
	ID         string         `json:"id"`
	Attempt    int            `json:"attempt"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HTTPAdapter posts commands to devices exposing an HTTP endpoint.
//
// 200, 201 and 204 confirm execution. 202 means the device accepted the
// command and will acknowledge it later through the acks endpoint.
type HTTPAdapter struct {
	client  *http.Client
	stopped atomic.Bool
	logger  Logger
}

// NewHTTP creates an HTTP adapter. A zero timeout uses the default.
func NewHTTP(timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPAdapter{
		client: &http.Client{Timeout: timeout},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the adapter.
func (a *HTTPAdapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Protocol returns "http".
func (a *HTTPAdapter) Protocol() string { return device.ProtocolHTTP }

// Send posts one attempt of a command.
func (a *HTTPAdapter) Send(ctx context.Context, d Dispatch) (Outcome, error) {
	if a.stopped.Load() {
		return Outcome{}, NewError(KindStopped, a.Protocol(), ErrStopped)
	}

	target, err := commandURL(d)
	if err != nil {
		return Outcome{}, NewError(KindConfiguration, a.Protocol(), err)
	}

	body, err := json.Marshal(httpCommandBody{
		ID:         d.CommandID,
		Attempt:    d.Attempt,
		DeviceID:   d.DeviceID,
		Command:    d.CommandName,
		Parameters: d.Parameters.Map(),
	})
	if err != nil {
		return Outcome{}, NewError(KindOther, a.Protocol(), fmt.Errorf("encoding command: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, NewError(KindConfiguration, a.Protocol(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCommandID, d.CommandID)

	resp, err := a.client.Do(req)
	if err != nil {
		return Outcome{}, a.classify(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponse)) //nolint:errcheck // body is informational

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		a.logger.Debug("http command confirmed", "command_id", d.CommandID, "status", resp.StatusCode)
		return Outcome{Confirmed: true, Response: decodeResponse(data)}, nil
	case http.StatusAccepted:
		return Outcome{Confirmed: false, Response: decodeResponse(data)}, nil
	}

	statusErr := fmt.Errorf("device returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError {
		return Outcome{}, NewTransientError(a.Protocol(), statusErr)
	}
	return Outcome{}, NewError(KindCommunication, a.Protocol(), statusErr)
}

// Stop makes later sends fail and releases idle connections.
func (a *HTTPAdapter) Stop() error {
	a.stopped.Store(true)
	a.client.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, a.Protocol(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, a.Protocol(), err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindStopped, a.Protocol(), err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NewError(KindConnection, a.Protocol(), err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewError(KindConnection, a.Protocol(), err)
	}
	return NewTransientError(a.Protocol(), err)
}

// commandURL builds {url}/commands/{command}, or returns url unchanged
// when the device address sets raw.
func commandURL(d Dispatch) (string, error) {
	base, ok := d.Target.Address.String("url")
	if !ok {
		return "", errors.New("device address has no url")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid device url %q", base)
	}
	if d.Target.Address.Bool("raw") {
		return u.String(), nil
	}
	return u.JoinPath("commands", d.CommandName).String(), nil
}

// decodeResponse returns the JSON body, or the text when it is not JSON.
func decodeResponse(data []byte) any {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	return string(data)
}
