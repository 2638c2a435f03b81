package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/services"
)

// ProofOpener reads stored proofs back.
type ProofOpener interface {
	Open(id string) (io.ReadCloser, string, error)
}

type ProofHandler struct {
	proofs ProofOpener
	logger *zap.Logger
}

func NewProofHandler(proofs ProofOpener, logger *zap.Logger) *ProofHandler {
	return &ProofHandler{proofs: proofs, logger: logger}
}

// GetProof streams a stored screenshot.
func (h *ProofHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["proofID"]
	if id == "" {
		http.Error(w, `{"error":"proof ID is required"}`, http.StatusBadRequest)
		return
	}

	body, contentType, err := h.proofs.Open(id)
	if errors.Is(err, services.ErrProofNotFound) {
		http.Error(w, `{"error":"proof not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to open proof", zap.String("proof_id", id), zap.Error(err))
		http.Error(w, `{"error":"failed to open proof"}`, http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("failed to stream proof", zap.String("proof_id", id), zap.Error(err))
	}
}

// NewRouter wires the health check, the Telegram webhook when tg is set and
// the proof download route when proofs is set.
func NewRouter(tg *TelegramHandler, proofs *ProofHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	if tg != nil {
		router.HandleFunc("/telegram/{secret}", tg.Webhook).Methods("POST")
	}
	if proofs != nil {
		router.HandleFunc("/proofs/{proofID}", proofs.GetProof).Methods("GET")
	}
	return router
}
