package server

import (
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/types"
)

type scenarioListing struct {
	types.Scenario
	Builtin bool `json:"builtin"`
}

// handleListScenarios lists the built-in scenarios merged with the stored
// library. A stored scenario hides a built-in of the same name.
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byName := map[string]scenarioListing{}
	for _, sc := range scenario.Builtins() {
		byName[sc.Name] = scenarioListing{Scenario: sc, Builtin: true}
	}
	stored, err := s.storage.ListScenarios(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list scenarios", slog.Any("error", err))
		writeJSONError(w, "failed to list scenarios", http.StatusInternalServerError)
		return
	}
	for _, sc := range stored {
		byName[sc.Name] = scenarioListing{Scenario: sc}
	}

	out := make([]scenarioListing, 0, len(byName))
	for _, l := range byName {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	writeJSON(w, out, http.StatusOK)
}

// handlePutScenario stores a scenario sent as JSON or YAML. The scenario must
// build into a valid snapshot before it is saved.
func (s *Server) handlePutScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// JSON is a subset of YAML so one parser covers both content types
	sc, err := scenario.Parse(body)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch sc.Topology {
	case types.TopologySingle:
		_, err = scenario.BuildSingle(sc)
	case types.TopologyParallel:
		_, err = scenario.BuildParallel(sc)
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.storage.PutScenario(ctx, sc); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save scenario", slog.String("name", sc.Name), slog.Any("error", err))
		writeJSONError(w, "failed to save scenario", http.StatusInternalServerError)
		return
	}
	email, _ := ctx.Value(emailContextKey).(string)
	log.Ctx(ctx).InfoContext(ctx, "scenario saved", slog.String("name", sc.Name), slog.String("by", email), slog.Bool("yaml", !strings.HasPrefix(strings.TrimSpace(string(body)), "{")))
	writeJSON(w, sc, http.StatusOK)
}
