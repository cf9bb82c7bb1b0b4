/*
scenarios.go - Demo scenario endpoints

PURPOSE:
  Exposes the seed package over HTTP so a fresh server can be populated
  from the browser or curl.

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "busy-week", "seed": 42}

NOTE:

	Scenarios append records; they never clear existing data. Every
	record goes through the services, so validation and reference checks
	apply exactly as for client writes.

SEE ALSO:
  - seed/seed.go: Scenario definitions
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/retail-records/seed"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, seed.All())
}

// LoadScenario runs a scenario against the configured backend.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := seed.Lookup(req.ScenarioID); !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	sum, err := seed.Load(r.Context(), h.Services, req.ScenarioID, req.Seed)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("scenario loaded",
		"scenario", req.ScenarioID,
		"customers", sum.Customers,
		"products", sum.Products,
		"stores", sum.Stores,
		"sales", sum.Sales)
	writeJSON(w, http.StatusCreated, LoadScenarioResponse{Scenario: req.ScenarioID, Created: sum})
}
