package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alovak/secureframe/gateway/models"
	"github.com/alovak/secureframe/widget"
)

// API is the HTTP API of the gateway service.
type API struct {
	gateway *Service
}

func NewAPI(gateway *Service) *API {
	return &API{
		gateway: gateway,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.openSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Delete("/", a.closeSession)
			r.Get("/frame", a.getFrame)
			r.Post("/messages", a.relayMessage)
			r.Post("/retry", a.retrySession)
			r.Get("/outcomes", a.listOutcomes)
		})
	})
}

func (a *API) openSession(w http.ResponseWriter, r *http.Request) {
	create := models.CreateSession{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	session, err := a.gateway.Open(r.Context(), create)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.gateway.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (a *API) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.gateway.Close(chi.URLParam(r, "sessionID")); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getFrame(w http.ResponseWriter, r *http.Request) {
	html, err := a.gateway.Frame(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// relayMessage accepts a message exactly as the payment page posted it to the embedding window.
func (a *API) relayMessage(w http.ResponseWriter, r *http.Request) {
	msg := widget.Message{}
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := a.gateway.Relay(chi.URLParam(r, "sessionID"), msg)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (a *API) retrySession(w http.ResponseWriter, r *http.Request) {
	session, err := a.gateway.Retry(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (a *API) listOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := a.gateway.Outcomes(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, outcomes)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, widget.ErrNotReady):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, widget.ErrBusy), errors.Is(err, widget.ErrNothingToRetry), errors.Is(err, widget.ErrAborted):
		return http.StatusConflict
	case errors.Is(err, widget.ErrSigning):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
