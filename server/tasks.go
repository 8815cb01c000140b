package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"newsletter-notifier/pkg/newsletter"
)

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Cleanup endpoint triggered")

	res := s.cleaner.Run(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleContentCreated(w http.ResponseWriter, r *http.Request) {
	var item newsletter.ContentItem
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		http.Error(w, "Content id is required", http.StatusBadRequest)
		return
	}

	res := s.dispatcher.OnContentCreated(r.Context(), &item)
	if res == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, res)
}
