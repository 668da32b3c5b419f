package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstate/internal/capsule/service"
	"capstate/internal/capsule/store"
	"capstate/internal/capsule/store/lock"
	"capstate/internal/provenance"
	"capstate/internal/reconcile"
)

// newServer wires a real service over in-memory stores; the handler tests
// exercise the full stack below the transport.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.New(store.NewInMemoryStore(), lock.NewLocalLocker(), provenance.NewInMemoryStore(), nil)
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seedBody() SeedRequest {
	var req SeedRequest
	raw := `{"products":[
		{"handle":"silk-blouse-black","cpi":"2201-410","status":"GO","image_status":"IMAGE_READY"},
		{"handle":"velvet-dress-red","cpi":"2202-650","status":"NO-GO","image_status":"IMAGE_MISSING"}
	]}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		panic(err)
	}
	return req
}

func seedCapsule(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/seed", seedBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSeedEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/seed", seedBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[SeedResponse](t, resp)
	assert.Equal(t, "S226", body.Capsule)
	assert.Equal(t, 2, body.Products)

	// Second seed conflicts.
	resp = doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/seed", seedBody())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSeedEndpoint_InvalidCapsuleID(t *testing.T) {
	srv := newServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/lower!case/seed", seedBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInferEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/infer", InferRequest{
		ImportedHandles: []string{"silk-blouse-black"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), res["updated"])
	assert.Equal(t, float64(1), res["imported_via_manifest"])

	state := decode[map[string]any](t, doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/state", nil))
	products := state["products"].(map[string]any)
	rec := products["silk-blouse-black"].(map[string]any)
	promo := rec["promotion"].(map[string]any)
	assert.Equal(t, "IMPORTED", promo["stage"])
}

func TestInferEndpoint_DryRunDoesNotPersist(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/infer?dry_run=true", InferRequest{
		ImportedHandles: []string{"silk-blouse-black"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), res["updated"])

	state := decode[map[string]any](t, doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/state", nil))
	products := state["products"].(map[string]any)
	rec := products["silk-blouse-black"].(map[string]any)
	imp := rec["import"].(map[string]any)
	assert.Equal(t, false, imp["imported"])
}

func TestInferEndpoint_OptInWithoutSetRejected(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/infer", InferRequest{
		ImportedHandles:  []string{"silk-blouse-black"},
		IncludeAnomalies: true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReconcileEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/reconcile", ReconcileRequest{
		Source: "inspection",
		Observations: []ObservationRequest{
			{CPI: "2201-410", Candidates: []reconcile.Candidate{
				{MediaID: "gid://media/1", Filename: "S226_2201_410_look.jpg", Position: 2},
			}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), res["adopted"])
	assert.Equal(t, float64(0), res["escalated"])
}

func TestReconcileEndpoint_MissingSource(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/reconcile", ReconcileRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPromoteStaticEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/actions/promote-static", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(2), res["promoted"])
}

func TestAdvanceEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/products/silk-blouse-black/advance",
		AdvanceRequest{Target: "ENRICHED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[AdvanceResponse](t, resp)
	assert.Equal(t, "advanced", body.Outcome)

	// Skipping a rung is rejected and maps to conflict.
	resp = doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/products/silk-blouse-black/advance",
		AdvanceRequest{Target: "IMPORTED"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown stage names are rejected up front.
	resp = doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/products/silk-blouse-black/advance",
		AdvanceRequest{Target: "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/products/silk-blouse-black/can/image_upsert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, true, res["allowed"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/products/velvet-dress-red/can/image_upsert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[map[string]any](t, resp)
	assert.Equal(t, false, res["allowed"])
	assert.Equal(t, "preflight_status=NO-GO", res["reason"])

	// Unknown action fails loudly rather than silently denying.
	resp = doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/products/silk-blouse-black/can/drop_table", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown product is not found.
	resp = doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/products/missing-product/can/image_upsert", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStateEndpoint_UnknownCapsule(t *testing.T) {
	srv := newServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/capsules/S999/state", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newServer(t)
	seedCapsule(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/capsules/S226/infer", InferRequest{
		ImportedHandles: []string{"silk-blouse-black"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hist := decode[[]map[string]any](t, doJSON(t, http.MethodGet, srv.URL+"/capsules/S226/history", nil))
	require.NotEmpty(t, hist)
	assert.Equal(t, "seed", hist[0]["operation"])
	last := hist[len(hist)-1]
	assert.Equal(t, "post_import_inference", last["operation"])
	assert.NotEmpty(t, last["id"])
}
