package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/interfaces"
)

// KVHandler manages provider credentials stored in the key/value store.
// Values are masked on read.
type KVHandler struct {
	kvStorage interfaces.KeyValueStorage
	logger    arbor.ILogger
}

// NewKVHandler creates a new KV handler
func NewKVHandler(kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) *KVHandler {
	return &KVHandler{
		kvStorage: kvStorage,
		logger:    logger,
	}
}

// ListKVHandler handles GET /api/kv
func (h *KVHandler) ListKVHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	pairs, err := h.kvStorage.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list key/value pairs")
		WriteError(w, http.StatusInternalServerError, "Failed to list key/value pairs")
		return
	}

	sanitized := make([]map[string]interface{}, len(pairs))
	for i, pair := range pairs {
		sanitized[i] = map[string]interface{}{
			"key":         pair.Key,
			"value":       maskValue(pair.Value),
			"description": pair.Description,
			"created_at":  pair.CreatedAt,
			"updated_at":  pair.UpdatedAt,
		}
	}

	WriteJSON(w, http.StatusOK, sanitized)
}

// KeyHandler handles PUT and DELETE /api/kv/{key}
func (h *KVHandler) KeyHandler(w http.ResponseWriter, r *http.Request) {
	key := PathVar(r, "key")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "Missing key parameter")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Value       string `json:"value"`
			Description string `json:"description"`
		}
		if err := DecodeJSON(w, r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Value == "" {
			WriteError(w, http.StatusBadRequest, "Value is required")
			return
		}

		created, err := h.kvStorage.Upsert(r.Context(), key, req.Value, req.Description)
		if err != nil {
			h.logger.Error().Err(err).Str("key", key).Msg("Failed to store key/value pair")
			WriteError(w, http.StatusInternalServerError, "Failed to store key/value pair")
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		h.logger.Info().Str("key", key).Bool("created", created).Msg("Key/value pair stored - restart to apply to providers")
		WriteJSON(w, status, map[string]interface{}{
			"key":     key,
			"created": created,
		})

	case http.MethodDelete:
		if err := h.kvStorage.Delete(r.Context(), key); err != nil {
			if errors.Is(err, interfaces.ErrKeyNotFound) {
				WriteError(w, http.StatusNotFound, "Key not found")
				return
			}
			h.logger.Error().Err(err).Str("key", key).Msg("Failed to delete key/value pair")
			WriteError(w, http.StatusInternalServerError, "Failed to delete key/value pair")
			return
		}
		WriteSuccess(w, "Key deleted")

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func maskValue(value string) string {
	if len(value) < 8 {
		return "••••••••"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
