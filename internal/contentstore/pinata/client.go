// Package pinata pins payloads to IPFS through the Pinata API and reads them
// back through a gateway.
package pinata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"certledger/internal/contentstore"
)

const (
	DefaultBaseURL    = "https://api.pinata.cloud"
	DefaultGatewayURL = "https://gateway.pinata.cloud"
)

type Config struct {
	BaseURL    string
	GatewayURL string
	JWT        string
	Timeout    time.Duration
}

// Client implements contentstore.Client against Pinata.
type Client struct {
	api     *resty.Client
	gateway *resty.Client
}

type pinRequest struct {
	Content  json.RawMessage `json:"pinataContent"`
	Metadata pinMetadata     `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	gatewayURL := cfg.GatewayURL
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(cfg.JWT).
			SetTimeout(timeout),
		gateway: resty.New().
			SetBaseURL(strings.TrimRight(gatewayURL, "/")).
			SetTimeout(timeout),
	}
}

// Put pins payload, which must be a JSON document.
func (c *Client) Put(ctx context.Context, payload []byte) (string, error) {
	if !json.Valid(payload) {
		return "", fmt.Errorf("pinata put: payload is not JSON")
	}
	name, err := pinName(payload)
	if err != nil {
		return "", err
	}

	var out pinResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetBody(pinRequest{
			Content:  payload,
			Metadata: pinMetadata{Name: name},
		}).
		SetResult(&out).
		Post("/pinning/pinJSONToIPFS")
	if err != nil {
		return "", fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	if err := statusError("put", resp); err != nil {
		return "", err
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata put: response carried no hash")
	}
	return out.IpfsHash, nil
}

func (c *Client) Get(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.gateway.R().
		SetContext(ctx).
		SetPathParam("hash", hash).
		Get("/ipfs/{hash}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, contentstore.ErrNotFound
	}
	if err := statusError("get", resp); err != nil {
		return nil, err
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, contentstore.ErrCorrupt
	}
	return body, nil
}

func statusError(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: pinata %s returned %d", contentstore.ErrUnreachable, op, code)
	default:
		return fmt.Errorf("pinata %s returned %d", op, code)
	}
}

func pinName(payload []byte) (string, error) {
	var head struct {
		CertificateID string `json:"certificateId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", fmt.Errorf("pinata put: %w", err)
	}
	if head.CertificateID == "" {
		return "Certificate", nil
	}
	return "Certificate-" + head.CertificateID, nil
}
