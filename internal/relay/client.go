package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"shieldedpool/internal/pool"
)

var ErrRejected = errors.New("relay: submission rejected")

// Client sends withdrawals to a relay node.
type Client struct {
	BaseURL  string
	SenderID string
	HTTP     *http.Client
}

var _ pool.Submitter = (*Client)(nil)

func NewClient(baseURL, senderID string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		SenderID: senderID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit implements pool.Submitter.
func (c *Client) Submit(ctx context.Context, s pool.Submission) (string, error) {
	rc, err := c.send(ctx, TypeWithdrawal, WithdrawalPayload{
		RequestID:     s.RequestID,
		Token:         s.Token,
		Proof:         s.SerializedProof,
		PublicSignals: s.PublicSignals,
	})
	if err != nil {
		return "", err
	}
	if rc.TxID == "" {
		return "", errors.Wrap(ErrRejected, "empty transaction id")
	}
	return rc.TxID, nil
}

// Ping checks that the node answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, TypePing, struct{}{})
	return err
}

func (c *Client) send(ctx context.Context, typ string, payload interface{}) (*Receipt, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	body, err := json.Marshal(Message{Type: typ, Payload: raw, SenderID: c.SenderID})
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send to relay")
	}
	defer resp.Body.Close()

	var rc Receipt
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read relay response")
	}
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, errors.Errorf("relay returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrRejected, "%s: %s", resp.Status, rc.Error)
	}
	return &rc, nil
}
