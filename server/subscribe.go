package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"newsletter-notifier/pkg/newsletter"
	"newsletter-notifier/storage"
	"newsletter-notifier/subscribe"
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	// Rate limiting by IP
	ip := clientIP(r)
	if !s.subscribeLimiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		s.writeJSON(w, http.StatusTooManyRequests, subscribe.Result{Message: "Too many requests. Please try again later."})
		return
	}

	req, err := decodeSubscribeRequest(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, subscribe.Result{Message: "Invalid request body"})
		return
	}
	if req.Source == "" {
		req.Source = r.Referer()
	}

	res, err := s.subscriber.Subscribe(r.Context(), req)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, res)
	case newsletter.IsValidationError(err):
		s.writeJSON(w, http.StatusBadRequest, res)
	case errors.Is(err, newsletter.ErrDuplicateSubscriber):
		s.writeJSON(w, http.StatusConflict, res)
	default:
		s.logger.Error("Subscribe failed", "email", req.Email, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, res)
	}
}

// decodeSubscribeRequest accepts a JSON body or a regular form post.
func decodeSubscribeRequest(w http.ResponseWriter, r *http.Request) (subscribe.Request, error) {
	var req subscribe.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Email = r.FormValue("email")
	req.Name = r.FormValue("name")
	req.Source = r.FormValue("source")
	return req, nil
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// Rate limiting by IP to prevent token enumeration
	ip := clientIP(r)
	if !s.lookupLimiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	data := map[string]string{"SiteName": s.siteName, "BaseURL": s.baseURL}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	sub, err := s.subscriber.Unsubscribe(r.Context(), token)
	if err != nil {
		if storage.IsNotFound(err) {
			s.render(w, http.StatusNotFound, "not_found.tmpl", data)
			return
		}
		s.logger.Error("Unsubscribe failed", "error", err)
		http.Error(w, "Failed to unsubscribe", http.StatusInternalServerError)
		return
	}

	data["Email"] = sub.Email
	s.render(w, http.StatusOK, "unsubscribed.tmpl", data)
}
