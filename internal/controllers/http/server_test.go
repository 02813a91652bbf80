package httpctrl

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
	"github.com/Agrid-Dev/preheat/internal/testutil"
)

const dining = "climate.wiser_dining_room"

var t0 = time.Date(2026, time.January, 12, 6, 0, 0, 0, time.UTC)

func TestGET_rooms(t *testing.T) {
	srv, _, _ := newTestServer()

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms", nil)
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[[]map[string]any](t, rr)
	if len(got) != 1 {
		t.Fatalf("expected 1 room, got %d", len(got))
	}
	if got[0]["room_id"] != dining {
		t.Fatalf("expected room_id=%s, got %v", dining, got[0]["room_id"])
	}
	if got[0]["phase"] != "heating" {
		t.Fatalf("expected phase=heating, got %v", got[0]["phase"])
	}
	if got[0]["predicted_lead_minutes"] != 400.0 {
		t.Fatalf("expected predicted_lead_minutes=400, got %v", got[0]["predicted_lead_minutes"])
	}
	if got[0]["off_time"] != nil {
		t.Fatalf("expected off_time=null, got %v", got[0]["off_time"])
	}
}

func TestGET_rooms_Empty(t *testing.T) {
	srv := New(testutil.NewFakeRoomService(), testutil.NewFakeStateWriter(), ":0")

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms", nil)
	assertStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestGET_room(t *testing.T) {
	srv, _, _ := newTestServer()

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/"+dining, nil)
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[map[string]any](t, rr)
	if got["room_name"] != "Dining room" {
		t.Fatalf("expected room_name=Dining room, got %v", got["room_name"])
	}
	if got["next_schedule_change"] != "2026-01-12T07:30:00Z" {
		t.Fatalf("unexpected next_schedule_change %v", got["next_schedule_change"])
	}
}

func TestGET_room_Unknown(t *testing.T) {
	srv, _, _ := newTestServer()

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/climate.nope", nil)
	assertStatus(t, rr, http.StatusNotFound)
	_ = assertErrorResponse(t, rr)
}

func TestGET_sessions(t *testing.T) {
	srv, f, _ := newTestServer()
	on := t0
	f.SessionsByRoom[dining] = []heating.Session{{
		ID:             "a1",
		RoomID:         dining,
		Phase:          heating.PhaseHeating,
		OnTime:         &on,
		OffTime:        t0.Add(time.Hour),
		OffTemperature: 21,
	}}

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/"+dining+"/sessions?limit=5", nil)
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[[]map[string]any](t, rr)
	if len(got) != 1 || got[0]["id"] != "a1" || got[0]["phase"] != "heating" {
		t.Fatalf("unexpected sessions %v", got)
	}
	if f.SessionsLimit != 5 {
		t.Fatalf("expected limit 5, got %d", f.SessionsLimit)
	}
}

func TestGET_sessions_DefaultLimit(t *testing.T) {
	srv, f, _ := newTestServer()

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/"+dining+"/sessions", nil)
	assertStatus(t, rr, http.StatusOK)
	if f.SessionsLimit != defaultSessionsLimit {
		t.Fatalf("expected default limit, got %d", f.SessionsLimit)
	}
}

func TestGET_sessions_InvalidLimit(t *testing.T) {
	srv, _, _ := newTestServer()

	for _, q := range []string{"0", "-3", "abc", "100000"} {
		rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/"+dining+"/sessions?limit="+q, nil)
		assertStatus(t, rr, http.StatusBadRequest)
		_ = assertErrorResponse(t, rr)
	}
}

func TestGET_sessions_ServiceError(t *testing.T) {
	srv, f, _ := newTestServer()
	f.SessionsErr = errors.New("database is locked")

	rr := doJSONRequest(t, srv.srv.Handler, http.MethodGet, "/v1/rooms/"+dining+"/sessions", nil)
	assertStatus(t, rr, http.StatusInternalServerError)
	_ = assertErrorResponse(t, rr)
}

func TestPOST_current_temperature(t *testing.T) {
	srv, _, w := newTestServer()

	rr := postValueEndpoint(t, srv, "/v1/rooms/"+dining+"/current_temperature", 19.5)
	assertStatus(t, rr, http.StatusAccepted)

	if v, ok := w.CurrentOf(dining); !ok || v != 19.5 {
		t.Fatalf("expected current temperature 19.5, got %v (%v)", v, ok)
	}
}

func TestPOST_target_temperature(t *testing.T) {
	srv, _, w := newTestServer()

	rr := postValueEndpoint(t, srv, "/v1/rooms/"+dining+"/target_temperature", 21.0)
	assertStatus(t, rr, http.StatusAccepted)

	if w.Target[dining] != 21 {
		t.Fatalf("expected target 21, got %v", w.Target[dining])
	}
}

func TestPOST_next_schedule(t *testing.T) {
	srv, _, w := newTestServer()

	rr := postValueEndpoint(t, srv, "/v1/rooms/"+dining+"/next_schedule", map[string]any{
		"temperature": 21,
		"time":        "2026-01-12T07:30:00Z",
	})
	assertStatus(t, rr, http.StatusAccepted)

	got := w.Next[dining]
	if got.Temperature == nil || *got.Temperature != 21 {
		t.Fatalf("unexpected temperature %v", got.Temperature)
	}
	if got.Time == nil || !got.Time.Equal(t0.Add(90*time.Minute)) {
		t.Fatalf("unexpected time %v", got.Time)
	}
}

func TestPOST_next_schedule_InvalidTime(t *testing.T) {
	srv, _, _ := newTestServer()

	rr := postValueEndpoint(t, srv, "/v1/rooms/"+dining+"/next_schedule", map[string]any{
		"time": "soon",
	})
	assertStatus(t, rr, http.StatusBadRequest)
	_ = assertErrorResponse(t, rr)
}

func TestPOST_environment(t *testing.T) {
	srv, _, w := newTestServer()

	assertStatus(t, postValueEndpoint(t, srv, "/v1/environment/flow_temperature", 45.0), http.StatusAccepted)
	assertStatus(t, postValueEndpoint(t, srv, "/v1/environment/outside_temperature", -2.5), http.StatusAccepted)

	if w.Flow == nil || *w.Flow != 45 {
		t.Fatalf("expected flow 45, got %v", w.Flow)
	}
	if w.Outside == nil || *w.Outside != -2.5 {
		t.Fatalf("expected outside -2.5, got %v", w.Outside)
	}
}

func TestPOST_InvalidPayload(t *testing.T) {
	srv, _, _ := newTestServer()

	// Wrong key => Value missing
	rr := doJSONRequest(t, srv.srv.Handler, http.MethodPost, "/v1/environment/flow_temperature", map[string]any{
		"flow": 45,
	})
	assertStatus(t, rr, http.StatusBadRequest)
	_ = assertErrorResponse(t, rr)

	rr = postValueEndpoint(t, srv, "/v1/environment/flow_temperature", "hot")
	assertStatus(t, rr, http.StatusBadRequest)
	_ = assertErrorResponse(t, rr)
}

func TestPOST_ErrorFromState(t *testing.T) {
	srv, _, w := newTestServer()
	w.Err = hoststate.ErrInvalidTemperature

	rr := postValueEndpoint(t, srv, "/v1/rooms/"+dining+"/current_temperature", 20.0)
	assertStatus(t, rr, http.StatusBadRequest)
	if msg := assertErrorResponse(t, rr); msg != hoststate.ErrInvalidTemperature.Error() {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestGET_healthz(t *testing.T) {
	srv, _, _ := newTestServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)

	assertStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "ok" {
		t.Fatalf("expected body 'ok', got %s", rr.Body.String())
	}
}

// ---- test helpers ----

func newTestServer() (*Server, *testutil.FakeRoomService, *testutil.FakeStateWriter) {
	on := t0
	onTemp := 18.0
	flow := 45.0
	f := testutil.NewFakeRoomService(heating.Snapshot{
		RoomID:                dining,
		RoomName:              "Dining room",
		CurrentTemperature:    18,
		PredictedLeadMinutes:  400,
		EstimateMinutes:       400,
		NextTargetTemperature: 21,
		NextScheduleChange:    t0.Add(90 * time.Minute),
		PlannedHeatStart:      t0.Add(-310 * time.Minute),
		Phase:                 heating.PhaseHeating,
		ObservedTarget:        21,
		ObservedNextChange:    t0.Add(90 * time.Minute),
		OnTime:                &on,
		OnTemperature:         &onTemp,
		FlowTemperature:       &flow,
	})
	w := testutil.NewFakeStateWriter()
	return New(f, w, ":0"), f, w
}

func doJSONRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("json.Unmarshal: %v body=%s", err, rr.Body.String())
	}
	return v
}

// Handy when you only care about error responses.
func assertErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeJSON[struct {
		Error string `json:"error"`
	}](t, rr)
	if resp.Error == "" {
		t.Fatalf("expected non-empty error field, got body=%s", rr.Body.String())
	}
	return resp.Error
}

func postValueEndpoint[T any](t *testing.T, srv *Server, path string, value T) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, srv.srv.Handler, http.MethodPost, path, struct {
		Value T `json:"value"`
	}{Value: value})
}
