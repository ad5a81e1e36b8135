package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Tutortoise/freshtrack-service/config"
	"github.com/Tutortoise/freshtrack-service/detections"
	"github.com/Tutortoise/freshtrack-service/models"
	"github.com/Tutortoise/freshtrack-service/storage"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func newTestState(t *testing.T) *AppState {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipeline := detections.New(detections.Config{
		Engine: detections.EngineConfig{ForceMock: true},
	}, log)

	return &AppState{
		Config: &config.Config{
			UploadDir:      t.TempDir(),
			MaxUploadBytes: 1 << 20,
		},
		Pipeline: pipeline,
		Store:    store,
		Advisor:  storage.NewAdvisor(store, log),
		Log:      log,
		Started:  time.Now(),
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	mw.Close()
	return &body, mw.FormDataContentType()
}

func serve(state *AppState, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	state.handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func uploadDirEmpty(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	return len(entries) == 0
}

func checkDetectionResponse(t *testing.T, resp DetectionResponse) {
	t.Helper()
	if !resp.Success || resp.Mode != "mock" || resp.Fallback {
		t.Errorf("unexpected response header fields: %+v", resp)
	}
	if len(resp.Detections) < 1 || len(resp.Detections) > 3 {
		t.Fatalf("expected 1 to 3 detections, got %d", len(resp.Detections))
	}
	for _, d := range resp.Detections {
		if d.Storage.Storage == "" || d.Storage.Status == "" {
			t.Errorf("detection %s has no storage advice", d.Label)
		}
	}
	if resp.Message == "" || resp.Timestamp == "" {
		t.Errorf("missing message or timestamp: %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	state := newTestState(t)
	rec := serve(state, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "OK" || body["timestamp"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestIndexAndTest(t *testing.T) {
	state := newTestState(t)

	for _, path := range []string{"/", "/api/test"} {
		rec := serve(state, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		if body["mode"] != "mock" {
			t.Errorf("%s: mode = %v", path, body["mode"])
		}
	}
}

func TestDetect_Multipart(t *testing.T) {
	state := newTestState(t)
	body, contentType := multipartBody(t, "image", "apple.png", "image/png", pngBytes(t))

	req := httptest.NewRequest("POST", "/api/detect", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(state, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp DetectionResponse
	decodeBody(t, rec, &resp)
	checkDetectionResponse(t, resp)

	if !uploadDirEmpty(t, state.Config.UploadDir) {
		t.Error("upload was not removed after processing")
	}
}

func TestDetect_MultipartSniffsGenericType(t *testing.T) {
	state := newTestState(t)
	body, contentType := multipartBody(t, "image", "photo", "application/octet-stream", pngBytes(t))

	req := httptest.NewRequest("POST", "/api/detect", body)
	req.Header.Set("Content-Type", contentType)
	if rec := serve(state, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDetect_JSONBase64(t *testing.T) {
	state := newTestState(t)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t))

	for _, img := range []string{encoded, "data:image/png;base64," + encoded} {
		payload, _ := json.Marshal(map[string]string{"image": img})
		req := httptest.NewRequest("POST", "/api/detect", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(state, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp DetectionResponse
		decodeBody(t, rec, &resp)
		checkDetectionResponse(t, resp)
	}
}

func TestDetect_RawBody(t *testing.T) {
	state := newTestState(t)
	req := httptest.NewRequest("POST", "/api/detect", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")

	if rec := serve(state, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDetect_BadRequests(t *testing.T) {
	state := newTestState(t)

	textBody, textType := multipartBody(t, "image", "notes.txt", "text/plain", []byte("just some text"))
	wrongField, wrongType := multipartBody(t, "file", "apple.png", "image/png", pngBytes(t))

	tests := []struct {
		name        string
		body        io.Reader
		contentType string
		wantStatus  int
		wantCode    string
	}{
		{"empty raw body", strings.NewReader(""), "", http.StatusBadRequest, "no_image"},
		{"non-image upload", textBody, textType, http.StatusBadRequest, "invalid_file_type"},
		{"missing image field", wrongField, wrongType, http.StatusBadRequest, "no_image"},
		{"invalid JSON", strings.NewReader("{"), "application/json", http.StatusBadRequest, "invalid_request"},
		{"invalid base64", strings.NewReader(`{"image":"***"}`), "application/json", http.StatusBadRequest, "invalid_request"},
		{"too large", bytes.NewReader(make([]byte, 2<<20)), "image/jpeg", http.StatusRequestEntityTooLarge, "file_too_large"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("POST", "/api/detect", tt.body)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		rec := serve(state, req)

		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, expected %d", tt.name, rec.Code, tt.wantStatus)
			continue
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Code != tt.wantCode {
			t.Errorf("%s: code = %s, expected %s", tt.name, errResp.Code, tt.wantCode)
		}
	}

	if !uploadDirEmpty(t, state.Config.UploadDir) {
		t.Error("rejected uploads left files behind")
	}
}

func TestDetectWebsocket(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(state.handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/detect/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, pngBytes(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp DetectionResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	checkDetectionResponse(t, resp)

	payload, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(pngBytes(t))})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp = DetectionResponse{}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	checkDetectionResponse(t, resp)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errResp ErrorResponse
	if err := conn.ReadJSON(&errResp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errResp.Code != "invalid_request" {
		t.Errorf("code = %s, expected invalid_request", errResp.Code)
	}
}

func TestStorageRoutes(t *testing.T) {
	state := newTestState(t)

	rec := serve(state, httptest.NewRequest("GET", "/api/storage", nil))
	var all struct {
		Success bool                             `json:"success"`
		Data    map[string]models.AdvisoryRecord `json:"data"`
	}
	decodeBody(t, rec, &all)
	if !all.Success || len(all.Data) != len(storage.DefaultAdvisories) {
		t.Errorf("expected %d records, got %d", len(storage.DefaultAdvisories), len(all.Data))
	}

	rec = serve(state, httptest.NewRequest("GET", "/api/storage/Fresh_Apple", nil))
	var item struct {
		Item    string                `json:"item"`
		Storage models.AdvisoryRecord `json:"storage"`
	}
	decodeBody(t, rec, &item)
	if item.Item != "fresh_apple" || item.Storage.ShelfLife != 14 {
		t.Errorf("unexpected item response %+v", item)
	}

	rec = serve(state, httptest.NewRequest("GET", "/api/storage/search?q=banana", nil))
	var search struct {
		Results []storage.Entry `json:"results"`
	}
	decodeBody(t, rec, &search)
	if len(search.Results) != 2 {
		t.Errorf("expected 2 search results, got %d", len(search.Results))
	}

	if rec := serve(state, httptest.NewRequest("GET", "/api/storage/search", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("search without q: status = %d", rec.Code)
	}
}

func TestStorageRemaining(t *testing.T) {
	state := newTestState(t)
	detected := time.Now().Add(-72*time.Hour - time.Minute).UTC().Format(time.RFC3339)

	rec := serve(state, httptest.NewRequest("GET", "/api/storage/fresh_apple/remaining?detected="+detected, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Storage storage.RemainingLife `json:"storage"`
	}
	decodeBody(t, rec, &body)
	if body.Storage.DaysElapsed != 3 || body.Storage.RemainingLife != 11 {
		t.Errorf("unexpected remaining life %+v", body.Storage)
	}

	for _, q := range []string{"", "?detected=yesterday"} {
		if rec := serve(state, httptest.NewRequest("GET", "/api/storage/fresh_apple/remaining"+q, nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, expected 400", q, rec.Code)
		}
	}
}

func TestStorageUpdate(t *testing.T) {
	state := newTestState(t)

	req := httptest.NewRequest("PUT", "/api/storage/Dragonfruit", strings.NewReader(`{"shelf_life": 5, "status": "Fresh"}`))
	rec := serve(state, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = serve(state, httptest.NewRequest("GET", "/api/storage/dragonfruit", nil))
	var item struct {
		Storage models.AdvisoryRecord `json:"storage"`
	}
	decodeBody(t, rec, &item)
	if item.Storage.ShelfLife != 5 || item.Storage.Status != "Fresh" {
		t.Errorf("update not visible: %+v", item.Storage)
	}

	req = httptest.NewRequest("PUT", "/api/storage/dragonfruit", strings.NewReader("{"))
	if rec := serve(state, req); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body: status = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	state := newTestState(t)
	body, contentType := multipartBody(t, "image", "apple.png", "image/png", pngBytes(t))
	req := httptest.NewRequest("POST", "/api/detect", body)
	req.Header.Set("Content-Type", contentType)
	serve(state, req)

	rec := serve(state, httptest.NewRequest("GET", "/metrics", nil))
	var metrics struct {
		Mode         string           `json:"mode"`
		Availability string           `json:"availability"`
		Pipeline     detections.Stats `json:"pipeline"`
	}
	decodeBody(t, rec, &metrics)
	if metrics.Mode != "mock" || metrics.Availability != "disabled" {
		t.Errorf("unexpected metrics %+v", metrics)
	}
	if metrics.Pipeline.Requests != 1 || metrics.Pipeline.Mock != 1 {
		t.Errorf("unexpected pipeline counters %+v", metrics.Pipeline)
	}
}

func TestNotFoundAndCORS(t *testing.T) {
	state := newTestState(t)

	rec := serve(state, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Message != "Endpoint not found" {
		t.Errorf("unexpected body %+v", errResp)
	}

	req := httptest.NewRequest("OPTIONS", "/api/detect", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = serve(state, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestGetDetectionMessage(t *testing.T) {
	fresh := EnrichedDetection{Storage: models.AdvisoryRecord{Status: storage.StatusFresh}}
	rotten := EnrichedDetection{Storage: models.AdvisoryRecord{Status: storage.StatusRotten}}

	tests := []struct {
		dets []EnrichedDetection
		want string
	}{
		{nil, MsgNoItems},
		{[]EnrichedDetection{fresh, fresh}, MsgAllFresh},
		{[]EnrichedDetection{fresh, rotten, rotten}, "We found 2 spoiled item(s). Please dispose of them safely and keep them away from your fresh food."},
	}

	for _, tt := range tests {
		if got := getDetectionMessage(tt.dets); got != tt.want {
			t.Errorf("getDetectionMessage(%d items) = %q", len(tt.dets), got)
		}
	}
}
