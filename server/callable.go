package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"newsletter-notifier/auth"
	"newsletter-notifier/pkg/newsletter"
	"newsletter-notifier/storage"
	"newsletter-notifier/trigger"
)

// callableRequest is the envelope of the callable protocol: {"data": {...}}.
type callableRequest[T any] struct {
	Data T `json:"data"`
}

type callableErrorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type triggerData struct {
	PostID string `json:"postId"`
}

type deleteData struct {
	Email string `json:"email"`
}

// caller returns the authenticated caller, or nil. Missing credentials are
// not an error here; the operation decides what anonymous callers get.
func (s *Server) caller(r *http.Request) *auth.Caller {
	c, err := s.auth.Authenticate(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoCredentials) {
			s.logger.Warn("Rejected credentials", "path", r.URL.Path, "error", err)
		}
		return nil
	}
	return c
}

func decodeCallable[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var req callableRequest[T]
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(&req)
	return req.Data, err
}

func (s *Server) writeCallableResult(w http.ResponseWriter, result any) {
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) writeCallableError(w http.ResponseWriter, err error) {
	ce := trigger.AsCallableError(err)
	s.writeJSON(w, ce.HTTPStatus(), map[string]any{"error": callableErrorBody{
		Status:  ce.Status(),
		Code:    ce.Code,
		Message: ce.Message,
	}})
}

func (s *Server) handleTriggerNotification(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	data, err := decodeCallable[triggerData](w, r)
	if err != nil && caller != nil {
		s.writeCallableError(w, &trigger.CallableError{Code: trigger.CodeInvalidArgument, Message: "Malformed request body"})
		return
	}

	ack, err := s.trigger.Trigger(r.Context(), caller, data.PostID)
	if err != nil {
		s.writeCallableError(w, err)
		return
	}
	s.writeCallableResult(w, ack)
}

func (s *Server) handleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller == nil {
		s.writeCallableError(w, &trigger.CallableError{Code: trigger.CodeUnauthenticated, Message: "User must be authenticated"})
		return
	}
	data, err := decodeCallable[deleteData](w, r)
	if err != nil {
		s.writeCallableError(w, &trigger.CallableError{Code: trigger.CodeInvalidArgument, Message: "Malformed request body"})
		return
	}

	if err := s.subscriber.Remove(r.Context(), data.Email); err != nil {
		switch {
		case newsletter.IsValidationError(err):
			s.writeCallableError(w, &trigger.CallableError{Code: trigger.CodeInvalidArgument, Message: err.Error()})
		case storage.IsNotFound(err):
			s.writeCallableError(w, &trigger.CallableError{Code: trigger.CodeNotFound, Message: "Subscriber not found"})
		default:
			s.logger.Error("Delete subscriber failed", "email", data.Email, "error", err)
			s.writeCallableError(w, err)
		}
		return
	}

	s.logger.Info("Subscriber deleted by admin", "email", data.Email, "deleted_by", caller.UID)
	s.writeCallableResult(w, map[string]any{"success": true, "message": "Subscriber deleted"})
}

// requireTaskToken guards endpoints called by Cloud Scheduler and the CMS.
func (s *Server) requireTaskToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Task-Token")
		if s.taskToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.taskToken)) != 1 {
			s.logger.Warn("Rejected task request", "path", r.URL.Path, "ip", clientIP(r))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
