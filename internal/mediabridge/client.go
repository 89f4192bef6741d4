// Package mediabridge is the typed control-plane client for the external
// mediasoup server. The server handles all audio/video routing; this client
// only drives transport/producer/consumer lifecycle over its JSON HTTP API.
//
// The media server is deliberately not trusted with any state: every failure
// surfaces as ErrUnavailable and callers treat it as non-fatal, keeping the
// local database authoritative.
package mediabridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable means the media server was unreachable or rejected the call.
// Callers must not abort local state transitions on it.
var ErrUnavailable = errors.New("media bridge unavailable")

// TransportDescriptor is the media server's reply to a create-transport call.
// ICE/DTLS parameters are mediasoup-defined blobs relayed to the client as-is.
type TransportDescriptor struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ConsumerDescriptor is the media server's reply to a consume call.
type ConsumerDescriptor struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// TransportRole selects which direction a transport carries.
type TransportRole string

const (
	RoleProducer TransportRole = "producer"
	RoleConsumer TransportRole = "consumer"
)

// Client calls the media server's control endpoints with a bounded timeout.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a media bridge client. timeout bounds every call.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// RouterCapabilities fetches the router's RTP capabilities, relayed verbatim
// to clients so they can initialize their mediasoup device.
func (c *Client) RouterCapabilities(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/router-capabilities", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c.do(req)
}

// CreateTransport asks the media server for a new WebRTC transport.
func (c *Client) CreateTransport(ctx context.Context, role TransportRole) (*TransportDescriptor, error) {
	path := "/createProducerTransport"
	if role == RoleConsumer {
		path = "/createConsumerTransport"
	}
	body, err := c.post(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	var desc TransportDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("%w: decode transport: %v", ErrUnavailable, err)
	}
	return &desc, nil
}

// ConnectTransport completes the DTLS handshake for a transport.
func (c *Client) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	_, err := c.post(ctx, "/connectTransport", map[string]any{
		"transportId":    transportID,
		"dtlsParameters": dtlsParameters,
	})
	return err
}

// Produce opens an outbound media stream and returns the producer handle.
func (c *Client) Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (string, error) {
	body, err := c.post(ctx, "/produce", map[string]any{
		"transportId":   transportID,
		"kind":          kind,
		"rtpParameters": rtpParameters,
	})
	if err != nil {
		return "", err
	}
	var reply struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &reply); err != nil || reply.ID == "" {
		return "", fmt.Errorf("%w: decode producer id", ErrUnavailable)
	}
	return reply.ID, nil
}

// Consume subscribes a transport to a producer.
func (c *Client) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage, transportID string) (*ConsumerDescriptor, error) {
	body, err := c.post(ctx, "/consume", map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
		"transportId":     transportID,
	})
	if err != nil {
		return nil, err
	}
	var desc ConsumerDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("%w: decode consumer: %v", ErrUnavailable, err)
	}
	return &desc, nil
}

// CloseProducer tears down a producer on the media server. Best-effort by
// contract: callers clear their local handle regardless of the outcome.
func (c *Client) CloseProducer(ctx context.Context, producerID string) error {
	_, err := c.post(ctx, "/closeProducer", map[string]any{"producerId": producerID})
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// do executes the request and folds every failure mode (network error,
// non-2xx, body-level "error" field) into ErrUnavailable.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("media bridge request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("media bridge error status",
			zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, probe.Error)
	}
	return body, nil
}
