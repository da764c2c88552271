// Package relay forwards withdrawal submissions over HTTP. A Node receives
// message envelopes and hands withdrawals to a backend submitter; a Client is the
// sending side and satisfies pool.Submitter.
package relay

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"shieldedpool/internal/transactions/withdraw"
)

const (
	TypeWithdrawal = "withdrawal"
	TypePing       = "ping"
)

// Message is the envelope for everything sent to a node.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// WithdrawalPayload carries a serialized proof and the signals it commits to.
type WithdrawalPayload struct {
	RequestID     string                 `json:"requestId"`
	Token         string                 `json:"token"`
	Proof         hexutil.Bytes          `json:"proof"`
	PublicSignals withdraw.PublicSignals `json:"publicSignals"`
}

// Receipt is the node's reply. Error is set when the submission was refused.
type Receipt struct {
	TxID  string `json:"txId,omitempty"`
	Error string `json:"error,omitempty"`
}
