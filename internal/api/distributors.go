package api

import (
	"errors"
	"net/http"

	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
)

// DistributorDTO represents a distributor in the API.
type DistributorDTO struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	LandingURL string `json:"landing_url,omitempty"`
}

type signalsResponse struct {
	EAN         string                `json:"ean"`
	Distributor string                `json:"distributor"`
	Signals     []distributors.Signal `json:"signals"`
}

func (s *Server) handleDistributors(w http.ResponseWriter, r *http.Request) {
	list := []DistributorDTO{}
	for _, key := range distributors.List() {
		d, ok := distributors.Get(key)
		if !ok {
			continue
		}
		list = append(list, DistributorDTO{
			Key:        d.Key(),
			Name:       d.Name(),
			Type:       string(d.Type()),
			LandingURL: d.LandingURL(),
		})
	}
	writeJSON(w, r, http.StatusOK, struct {
		Distributors []DistributorDTO `json:"distributors"`
	}{list})
}

// handleSignals lists the HDO signals published for a supply point.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ean := q.Get("ean")
	if ean == "" {
		writeError(w, r, http.StatusBadRequest, "ean is required")
		return
	}
	key := q.Get("distributor")
	if key == "" {
		key = "cez"
	}
	d, ok := distributors.Get(key)
	if !ok {
		writeError(w, r, http.StatusNotFound, providers.ErrProviderNotFound.Error())
		return
	}

	signals, err := d.ListSignals(r.Context(), ean)
	switch {
	case errors.Is(err, providers.ErrNotImplemented):
		writeError(w, r, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	if signals == nil {
		signals = []distributors.Signal{}
	}
	writeJSON(w, r, http.StatusOK, signalsResponse{EAN: ean, Distributor: key, Signals: signals})
}
