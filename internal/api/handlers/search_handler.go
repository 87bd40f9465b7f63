package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
}

func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query     string   `json:"query"`
	Category  string   `json:"category"`
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, err := h.search.Search(r.Context(), req.Query, models.SearchOptions{
		Category:  req.Category,
		Threshold: req.Threshold,
		Limit:     req.Limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}
