package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/service"
)

type generateRequest struct {
	Count       int             `json:"count"`
	Prompt      string          `json:"prompt"`
	AspectRatio string          `json:"aspectRatio"`
	Resolution  string          `json:"resolution"`
	InputURLs   []string        `json:"inputUrls"`
	Settings    json.RawMessage `json:"settings"`
}

type generateResponse struct {
	OK           bool            `json:"ok"`
	GenerationID string          `json:"generationId,omitempty"`
	Images       []string        `json:"images,omitempty"`
	VideoURL     string          `json:"videoUrl,omitempty"`
	CreditsUsed  int64           `json:"creditsUsed"`
	BalanceAfter *int64          `json:"balanceAfter,omitempty"`
	Plan         models.PlanTier `json:"plan"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	genType := models.GenerationType(chi.URLParam(r, "type"))
	if !genType.Valid() {
		s.writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Error: "unknown generation type"})
		return
	}

	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Generations.Generate(r.Context(), service.GenerationInput{
		UserID:         userID(r),
		GenerationType: genType,
		Count:          req.Count,
		Prompt:         req.Prompt,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		InputURLs:      req.InputURLs,
		Settings:       req.Settings,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := generateResponse{
		OK:           true,
		GenerationID: res.GenerationID,
		CreditsUsed:  res.CreditsUsed,
		BalanceAfter: res.BalanceAfter,
		Plan:         res.Plan,
	}
	if genType == models.GenerationVideo {
		if len(res.URLs) > 0 {
			out.VideoURL = res.URLs[0]
		}
	} else {
		out.Images = res.URLs
	}
	s.writeJSON(w, http.StatusOK, out)
}
