package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/gestalyze/internal/classifier"
)

// Variants lists and switches classifier variants. *app.App satisfies it.
type Variants interface {
	Variants() []string
	ActiveVariant() string
	SwitchVariant(id string) error
}

// VariantsHandler handles /api/variants.
type VariantsHandler struct {
	variants Variants
}

// NewVariantsHandler creates a new VariantsHandler.
func NewVariantsHandler(v Variants) *VariantsHandler {
	return &VariantsHandler{variants: v}
}

type variantsResponse struct {
	Active   string   `json:"active"`
	Variants []string `json:"variants"`
}

type switchVariantRequest struct {
	ID string `json:"id"`
}

// ServeHTTP implements the http.Handler interface.
func (h *VariantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w)
	case http.MethodPut:
		h.switchTo(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *VariantsHandler) list(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, variantsResponse{
		Active:   h.variants.ActiveVariant(),
		Variants: h.variants.Variants(),
	})
}

// switchTo handles PUT /api/variants. The new variant applies from the next frame.
func (h *VariantsHandler) switchTo(w http.ResponseWriter, r *http.Request) {
	var req switchVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Variant id is required")
		return
	}

	if err := h.variants.SwitchVariant(req.ID); err != nil {
		if errors.Is(err, classifier.ErrUnknownVariant) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to switch variant")
		return
	}

	h.list(w)
}
