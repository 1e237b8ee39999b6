package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"road-data-service/internal/realtime"
	"road-data-service/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *store.Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:memdb_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return repo
}

func newTestServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	srv := NewServer(newTestRepo(t), hub)
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, hub
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode json: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	var payload any
	_ = json.NewDecoder(res.Body).Decode(&payload)
	return res, payload
}

func reading(roadState string, userID int64) map[string]any {
	return map[string]any{
		"road_state": roadState,
		"agent_data": map[string]any{
			"user_id": userID,
			"accelerometer": map[string]any{
				"x": 0.1, "y": 0.2, "z": 9.8,
			},
			"gps": map[string]any{
				"latitude": 50.45, "longitude": 30.52,
			},
			"timestamp": "2024-01-01T00:00:00Z",
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCreateStoresAndPushesToSubscriber(t *testing.T) {
	ts, hub := newTestServer(t)
	c := ts.Client()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/42"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.Subscribers(42) == 1 })

	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", []any{reading("normal", 42)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}
	created := payload.([]any)
	if len(created) != 1 {
		t.Fatalf("expected 1 created record, got %d", len(created))
	}
	if id := created[0].(map[string]any)["id"].(float64); id != 1 {
		t.Fatalf("expected assigned id 1, got %v", id)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var pushed map[string]any
	if err := json.Unmarshal(msg, &pushed); err != nil {
		t.Fatalf("unmarshal push: %v msg=%s", err, string(msg))
	}
	if pushed["id"].(float64) != 1 || pushed["road_state"].(string) != "normal" {
		t.Fatalf("unexpected push: %v", pushed)
	}
	if pushed["user_id"].(float64) != 42 || pushed["z"].(float64) != 9.8 {
		t.Fatalf("unexpected push fields: %v", pushed)
	}

	// Exactly one push for one create.
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("received a second push for a single create")
	}
}

func TestReadRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	c := ts.Client()

	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", []any{reading("bumpy", 7)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}

	res, payload = doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status=%d payload=%v", res.StatusCode, payload)
	}
	row := payload.(map[string]any)
	if row["road_state"].(string) != "bumpy" || row["user_id"].(float64) != 7 {
		t.Fatalf("round trip mismatch: %v", row)
	}
	if row["latitude"].(float64) != 50.45 || row["longitude"].(float64) != 30.52 {
		t.Fatalf("gps mismatch: %v", row)
	}
}

func TestValidationRejectionWritesNothing(t *testing.T) {
	ts, hub := newTestServer(t)
	c := ts.Client()

	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", []any{reading("", 7)})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}
	msg := payload.(map[string]any)["error"].(string)
	if !strings.Contains(msg, "road_state") {
		t.Fatalf("error does not name the field: %q", msg)
	}

	res, payload = doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d", res.StatusCode)
	}
	if rows := payload.([]any); len(rows) != 0 {
		t.Fatalf("expected no rows after rejected create, got %d", len(rows))
	}
	if hub.Subscribers(7) != 0 {
		t.Fatal("unexpected subscriber state")
	}
}

func TestDecodeErrorReportsFieldPath(t *testing.T) {
	ts, _ := newTestServer(t)
	c := ts.Client()

	item := reading("normal", 1)
	item["agent_data"].(map[string]any)["accelerometer"].(map[string]any)["x"] = "not-a-number"

	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", []any{item})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}
	msg := payload.(map[string]any)["error"].(string)
	if !strings.Contains(msg, "accelerometer.x") {
		t.Fatalf("error does not name the field path: %q", msg)
	}

	_, payload = doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/", nil)
	if rows := payload.([]any); len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	ts, _ := newTestServer(t)
	c := ts.Client()

	batch := []any{reading("normal", 1), reading("", 1), reading("smooth", 1)}
	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", batch)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}
	msg := payload.(map[string]any)["error"].(string)
	if !strings.Contains(msg, "item 1") {
		t.Fatalf("error does not name the failing item: %q", msg)
	}

	// Per-item commits: the record before the failure stays stored, the one
	// after it is never attempted.
	_, payload = doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/", nil)
	if rows := payload.([]any); len(rows) != 1 {
		t.Fatalf("expected 1 committed row, got %d", len(rows))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ts, _ := newTestServer(t)
	c := ts.Client()

	res, payload := doJSON(t, c, http.MethodPost, ts.URL+"/processed_agent_data/", []any{reading("normal", 7)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status=%d payload=%v", res.StatusCode, payload)
	}

	res, payload = doJSON(t, c, http.MethodPut, ts.URL+"/processed_agent_data/1", reading("pothole", 7))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status=%d payload=%v", res.StatusCode, payload)
	}
	row := payload.(map[string]any)
	if row["road_state"].(string) != "pothole" || row["id"].(float64) != 1 {
		t.Fatalf("unexpected updated row: %v", row)
	}

	res, payload = doJSON(t, c, http.MethodDelete, ts.URL+"/processed_agent_data/1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status=%d payload=%v", res.StatusCode, payload)
	}
	row = payload.(map[string]any)
	if row["road_state"].(string) != "pothole" {
		t.Fatalf("delete did not return the pre-delete record: %v", row)
	}

	res, _ = doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/1", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", res.StatusCode)
	}
}

func TestNotFoundResponses(t *testing.T) {
	ts, _ := newTestServer(t)
	c := ts.Client()

	res, _ := doJSON(t, c, http.MethodGet, ts.URL+"/processed_agent_data/999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get status=%d", res.StatusCode)
	}
	res, _ = doJSON(t, c, http.MethodPut, ts.URL+"/processed_agent_data/999", reading("normal", 1))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("update status=%d", res.StatusCode)
	}
	res, _ = doJSON(t, c, http.MethodDelete, ts.URL+"/processed_agent_data/999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("delete status=%d", res.StatusCode)
	}
}

func TestSubscribeRejectsBadUserID(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := ts.Client().Get(ts.URL + "/ws/not-a-number")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("subscribe status=%d", res.StatusCode)
	}
}
