package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/upstwin/upstwin/pkg/controller"
	"github.com/upstwin/upstwin/pkg/session"
	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/storage/storagemock"
	"github.com/upstwin/upstwin/pkg/telemetry"
	"github.com/upstwin/upstwin/pkg/types"
)

func newTestServer(db *storagemock.MockDatabase) *Server {
	m := session.NewMap(controller.NewController(), session.Deps{Storage: db}, "normal-online", "parallel-online")
	return &Server{
		sessions:   m,
		storage:    db,
		metrics:    telemetry.NewMetrics(),
		bypassAuth: true,
		serverName: "upstwin-test",
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var resp map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{})
	rr, _ := do(t, srv.setupHandler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "upstwin-test", rr.Header().Get("Server"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestState(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{})
	h := srv.setupHandler()

	t.Run("Single", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodGet, "/api/single/state", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, resp["sessionID"])
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
		state := resp["state"].(map[string]any)
		assert.Equal(t, "ONLINE", state["mode"])
	})

	t.Run("Parallel", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodGet, "/api/parallel/state", "")
		require.Equal(t, http.StatusOK, rr.Code)
		state := resp["state"].(map[string]any)
		assert.Equal(t, "ONLINE_PARALLEL", state["systemMode"])
		assert.Len(t, state["modules"], 2)
	})

	t.Run("Unknown Topology", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodGet, "/api/triple/state", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, resp["error"], "unknown topology")
	})
}

func TestBreaker(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{})
	h := srv.setupHandler()

	t.Run("Refused", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodPost, "/api/single/breaker", `{"id":"Q4","closed":false}`)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, false, resp["allowed"])
		assert.Contains(t, resp["reason"], "Q4:")
	})

	t.Run("Parallel Maintenance Refused", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodPost, "/api/parallel/breaker", `{"id":"Q3_A","closed":true}`)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, resp["reason"], "Q3_A")
	})

	t.Run("Allowed", func(t *testing.T) {
		rr, resp := do(t, h, http.MethodPost, "/api/single/breaker", `{"id":"LOAD1","closed":false}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, resp["allowed"])
		state := resp["state"].(map[string]any)
		breakers := state["breakers"].(map[string]any)
		assert.Equal(t, false, breakers["LOAD1"])
	})

	t.Run("Bad Body", func(t *testing.T) {
		rr, _ := do(t, h, http.MethodPost, "/api/single/breaker", `{"id":"Q1","closed":true,"extra":1}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr, _ = do(t, h, http.MethodPost, "/api/single/breaker", `{"closed":true}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCommand(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{})
	h := srv.setupHandler()

	rr, _ := do(t, h, http.MethodPost, "/api/single/command", `{"type":"SELF_DESTRUCT"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, resp := do(t, h, http.MethodPost, "/api/single/command", `{"type":"EPO"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, resp["applied"])
	assert.Equal(t, "EMERGENCY_SHUTDOWN", resp["state"].(map[string]any)["mode"])

	rr, resp = do(t, h, http.MethodPost, "/api/single/command", `{"type":"RECT_ON"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, false, resp["applied"])
	assert.Contains(t, resp["message"], "ignored")

	rr, _ = do(t, h, http.MethodPost, "/api/parallel/command", `{"type":"ACK_ALARM","module":"A"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestFaultsAndReset(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("GetScenario", mock.Anything, "cold-start").Return(types.Scenario{}, storage.ErrScenarioNotFound)
	db.On("GetScenario", mock.Anything, "nope").Return(types.Scenario{}, storage.ErrScenarioNotFound)
	srv := newTestServer(db)
	h := srv.setupHandler()

	rr, resp := do(t, h, http.MethodPost, "/api/single/faults", `{"utilityLoss":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	alarms := resp["state"].(map[string]any)["alarms"]
	assert.Contains(t, alarms, "FAULT INJECTED: UTILITY LOSS")

	rr, _ = do(t, h, http.MethodPost, "/api/single/faults", `{"gremlins":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, resp = do(t, h, http.MethodPost, "/api/parallel/faults", `{"modules":[{"inverterFault":true},{}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, resp["state"].(map[string]any)["alarms"], "MODULE A: FAULT INJECTED: INVERTER FAULT")

	rr, resp = do(t, h, http.MethodPost, "/api/single/reset", `{"scenario":"cold-start"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cold-start", resp["scenario"])
	assert.Equal(t, "OFF", resp["state"].(map[string]any)["mode"])

	rr, _ = do(t, h, http.MethodPost, "/api/single/reset", `{"scenario":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, h, http.MethodPost, "/api/single/reset", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScenarios(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("ListScenarios", mock.Anything).Return([]types.Scenario{
		{Name: "normal-online", Topology: types.TopologySingle, Description: "edited"},
		{Name: "brownout", Topology: types.TopologySingle, Base: "normal-online"},
	}, nil)
	srv := newTestServer(db)
	h := srv.setupHandler()

	t.Run("List", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/scenarios", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var list []scenarioListing
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		byName := map[string]scenarioListing{}
		for _, l := range list {
			byName[l.Name] = l
		}
		assert.False(t, byName["brownout"].Builtin)
		assert.False(t, byName["normal-online"].Builtin)
		assert.Equal(t, "edited", byName["normal-online"].Description)
		assert.True(t, byName["parallel-online"].Builtin)
		assert.Equal(t, "brownout", list[1].Name)
	})

	t.Run("Put YAML", func(t *testing.T) {
		db.On("PutScenario", mock.Anything, mock.MatchedBy(func(sc types.Scenario) bool {
			return sc.Name == "sagging" && sc.Utility.Voltage == 380
		})).Return(nil).Once()
		body := "name: sagging\ntopology: single\nbase: normal-online\nutility:\n  voltage: 380\n  frequency: 50\n"
		rr, _ := do(t, h, http.MethodPut, "/api/scenarios", body)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Put JSON", func(t *testing.T) {
		db.On("PutScenario", mock.Anything, mock.MatchedBy(func(sc types.Scenario) bool {
			return sc.Name == "pair"
		})).Return(nil).Once()
		rr, _ := do(t, h, http.MethodPut, "/api/scenarios", `{"name":"pair","topology":"parallel","base":"parallel-degraded"}`)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Put Invalid", func(t *testing.T) {
		rr, _ := do(t, h, http.MethodPut, "/api/scenarios", "name: x\ntopology: triple\n")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr, _ = do(t, h, http.MethodPut, "/api/scenarios", "name: x\ntopology: single\nstate:\n  nonsense: 1\n")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	db.AssertExpectations(t)
}

func TestInstructorAuth(t *testing.T) {
	oidcSrv, priv := setupOIDCTest(t)
	defer oidcSrv.Close()
	provider, err := oidc.NewProvider(context.Background(), oidcSrv.URL)
	require.NoError(t, err)

	instructorToken := generateTestToken(t, oidcSrv.URL, priv, "instructor@example.com", "i1")
	studentToken := generateTestToken(t, oidcSrv.URL, priv, "student@example.com", "s1")

	srv := newTestServer(&storagemock.MockDatabase{})
	srv.bypassAuth = false
	srv.instructorEmails = []string{"instructor@example.com"}
	srv.oidcVerifiers = map[string]tokenVerifier{
		"google": provider.Verifier(&oidc.Config{ClientID: "test-audience"}).Verify,
	}
	h := srv.setupHandler()

	send := func(header, cookie string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/single/faults", strings.NewReader(`{"groundFault":true}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: cookie})
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("", ""))
	assert.Equal(t, http.StatusBadRequest, send("Basic abc", ""))
	assert.Equal(t, http.StatusUnauthorized, send("Bearer not-a-token", ""))
	assert.Equal(t, http.StatusForbidden, send("Bearer "+studentToken, ""))
	assert.Equal(t, http.StatusOK, send("Bearer "+instructorToken, ""))
	assert.Equal(t, http.StatusOK, send("", instructorToken))

	// trainee operations stay open
	rr, _ := do(t, h, http.MethodGet, "/api/single/state", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{})
	h := srv.setupHandler()
	do(t, h, http.MethodGet, "/api/single/state", "")

	rr, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `upstwin_http_requests_total{route="GET /api/{topology}/state",status="200"} 1`)
}
