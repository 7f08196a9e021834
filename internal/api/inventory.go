package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.deps.Store.ListAssets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(assets),
		"assets": assets,
	})
}

// handleAssetChanges returns the mutation journal for one asset, newest
// first.
func (s *Server) handleAssetChanges(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	asset, err := s.deps.Store.AssetByIP(r.Context(), ip)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	changes, err := s.deps.Store.AssetChanges(r.Context(), asset.ID, limitParam(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id": asset.ID,
		"ip":       asset.IP,
		"count":    len(changes),
		"changes":  changes,
	})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.deps.Store.ListScans(r.Context(), limitParam(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(scans),
		"scans": scans,
	})
}
