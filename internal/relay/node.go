package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shieldedpool/internal/pool"
	"shieldedpool/internal/transactions/withdraw"
)

const maxMessageBytes = 64 << 10

// Node accepts messages on /message and submits withdrawals to its backend.
type Node struct {
	ID      string
	Address string

	backend pool.Submitter
	log     *zap.Logger

	mu     sync.Mutex
	server *http.Server
	wg     sync.WaitGroup
}

func NewNode(id, address string, backend pool.Submitter, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		ID:      id,
		Address: address,
		backend: backend,
		log:     log.With(zap.String("node", id)),
	}
}

func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)
	return mux
}

// Start listens on n.Address and serves in the background. It returns once the
// listener is open; Address is updated with the bound address.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.Address)
	if err != nil {
		return errors.Wrapf(err, "relay %s listen", n.ID)
	}
	n.mu.Lock()
	n.Address = ln.Addr().String()
	n.server = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := n.server
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.log.Info("relay listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("relay server failed", zap.Error(err))
		}
		n.log.Info("relay stopped")
	}()
	return nil
}

func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	srv := n.server
	n.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	n.wg.Wait()
	return err
}

func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeReceipt(w, http.StatusMethodNotAllowed, Receipt{Error: "POST only"})
		return
	}
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		n.log.Warn("bad message", zap.Error(err))
		writeReceipt(w, http.StatusBadRequest, Receipt{Error: "invalid message body"})
		return
	}
	log := n.log.With(zap.String("type", msg.Type), zap.String("sender", msg.SenderID))

	switch msg.Type {
	case TypePing:
		writeReceipt(w, http.StatusOK, Receipt{})

	case TypeWithdrawal:
		var p WithdrawalPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn("bad withdrawal payload", zap.Error(err))
			writeReceipt(w, http.StatusBadRequest, Receipt{Error: "invalid withdrawal payload"})
			return
		}
		proof, err := withdraw.DecodeProof(p.Proof)
		if err != nil {
			writeReceipt(w, http.StatusBadRequest, Receipt{Error: err.Error()})
			return
		}
		if proof.Signals != p.PublicSignals {
			writeReceipt(w, http.StatusBadRequest, Receipt{Error: "public signals do not match the proof"})
			return
		}
		txID, err := n.backend.Submit(r.Context(), pool.Submission{
			RequestID:       p.RequestID,
			Token:           p.Token,
			SerializedProof: p.Proof,
			PublicSignals:   p.PublicSignals,
		})
		if err != nil {
			log.Warn("withdrawal refused", zap.String("requestId", p.RequestID), zap.Error(err))
			writeReceipt(w, http.StatusUnprocessableEntity, Receipt{Error: err.Error()})
			return
		}
		log.Info("withdrawal relayed", zap.String("requestId", p.RequestID), zap.String("txId", txID))
		writeReceipt(w, http.StatusOK, Receipt{TxID: txID})

	default:
		log.Warn("unknown message type")
		writeReceipt(w, http.StatusBadRequest, Receipt{Error: "unknown message type " + msg.Type})
	}
}

func writeReceipt(w http.ResponseWriter, status int, rc Receipt) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rc)
}
