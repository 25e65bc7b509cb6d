package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
	"github.com/ivankudzin/modgate/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

type TransactionHandler struct {
	registry *txn.Registry
}

func NewTransactionHandler(registry *txn.Registry) *TransactionHandler {
	return &TransactionHandler{registry: registry}
}

// Create assembles a pending transaction group from the ordered
// operation list; nothing is applied until submit.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeInternal(w, "TRANSACTIONS_UNAVAILABLE", "transaction registry is unavailable")
		return
	}

	var req dto.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed transaction payload")
		return
	}

	ops := make([]model.TxOperation, 0, len(req.Operations))
	for _, op := range req.Operations {
		ops = append(ops, model.TxOperation{
			Target:        op.Target,
			Kind:          op.Kind,
			Payload:       op.Payload,
			Preconditions: op.Preconditions,
		})
	}

	record, err := h.registry.Begin(ops)
	if err != nil {
		writeBadRequest(w, "INVALID_TRANSACTION", err.Error())
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.TransactionResponse{
		ID:     record.ID,
		Status: string(record.Status),
	})
}

func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeInternal(w, "TRANSACTIONS_UNAVAILABLE", "transaction registry is unavailable")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.registry.Submit(r.Context(), id); err != nil {
		if errors.Is(err, txn.ErrTransactionNotFound) {
			writeNotFound(w, "TRANSACTION_NOT_FOUND", "unknown transaction id")
			return
		}

		record, getErr := h.registry.Get(id)
		if getErr != nil {
			writeInternal(w, "INTERNAL_ERROR", "failed to apply transaction group")
			return
		}
		// The whole group rolled back; the record says so.
		httperrors.Write(w, http.StatusUnprocessableEntity, dto.TransactionResponse{
			ID:     record.ID,
			Status: string(record.Status),
		})
		return
	}

	record, err := h.registry.Get(id)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "transaction committed but record is gone")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.TransactionResponse{
		ID:     record.ID,
		Status: string(record.Status),
	})
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeInternal(w, "TRANSACTIONS_UNAVAILABLE", "transaction registry is unavailable")
		return
	}

	record, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "TRANSACTION_NOT_FOUND", "unknown transaction id")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.TransactionResponse{
		ID:     record.ID,
		Status: string(record.Status),
	})
}
