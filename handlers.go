package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/Tutortoise/freshtrack-service/detections"
	"github.com/Tutortoise/freshtrack-service/models"
	"github.com/Tutortoise/freshtrack-service/storage"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sys/cpu"
)

// EnrichedDetection is a detection plus the storage advice for its label.
type EnrichedDetection struct {
	models.Detection
	Storage models.AdvisoryRecord `json:"storage"`
}

type DetectionResponse struct {
	Success    bool                `json:"success"`
	Mode       string              `json:"mode"`
	Fallback   bool                `json:"fallback"`
	Message    string              `json:"message"`
	Detections []EnrichedDetection `json:"detections"`
	Timestamp  string              `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *AppState) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "FreshTrack Backend API",
		"version": "1.0.0",
		"mode":    s.Pipeline.Mode().String(),
		"endpoints": map[string]string{
			"/api/detect":                   "POST - Detect food items in image",
			"/api/detect/ws":                "GET - Stream images over a WebSocket",
			"/api/storage":                  "GET - Get all storage data",
			"/api/storage/search":           "GET - Search storage data (?q=)",
			"/api/storage/{item}":           "GET - Get storage info for specific item, PUT - Update it",
			"/api/storage/{item}/remaining": "GET - Remaining shelf life (?detected=)",
			"/metrics":                      "GET - Pipeline and session pool metrics",
		},
	})
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": timestamp(),
	})
}

func (s *AppState) handleTest(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Test endpoint working",
		"timestamp": timestamp(),
		"mode":      s.Pipeline.Mode().String(),
		"environment": map[string]interface{}{
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS,
			"arch":       runtime.GOARCH,
			"num_cpu":    runtime.NumCPU(),
			"cpu_features": map[string]bool{
				"avx512": cpu.X86.HasAVX512,
				"avx2":   cpu.X86.HasAVX2,
				"sse41":  cpu.X86.HasSSE41,
				"neon":   cpu.ARM64.HasASIMD,
			},
			"memory": map[string]uint64{
				"alloc":       mem.Alloc,
				"total_alloc": mem.TotalAlloc,
				"sys":         mem.Sys,
				"num_gc":      uint64(mem.NumGC),
			},
			"env": map[string]string{
				"PORT":            os.Getenv("PORT"),
				"FORCE_MOCK_MODE": os.Getenv("FORCE_MOCK_MODE"),
				"DEBUG":           os.Getenv("DEBUG"),
			},
		},
	})
}

func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	data, ext, err := readUpload(w, r, s.Config.MaxUploadBytes)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}

	resp, err := s.detect(r.Context(), data, ext)
	if err != nil {
		s.sendDetectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// detect stores the image in the upload directory, runs the pipeline on it
// and enriches every detection with storage advice.
func (s *AppState) detect(ctx context.Context, data []byte, ext string) (*DetectionResponse, error) {
	path, err := saveUpload(s.Config.UploadDir, data, ext)
	if err != nil {
		return nil, err
	}

	s.Log.WithField("path", path).Debug("Processing image")

	result, err := s.Pipeline.ProcessImage(ctx, path)
	if err != nil {
		return nil, err
	}

	enriched := make([]EnrichedDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		enriched = append(enriched, EnrichedDetection{
			Detection: d,
			Storage:   s.Advisor.Lookup(d.Label),
		})
	}

	return &DetectionResponse{
		Success:    true,
		Mode:       result.Source.String(),
		Fallback:   result.Fallback,
		Message:    getDetectionMessage(enriched),
		Detections: enriched,
		Timestamp:  timestamp(),
	}, nil
}

func (s *AppState) sendUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		sendErrorResponse(w, "file_too_large", "Image exceeds the upload limit", http.StatusRequestEntityTooLarge)
	case errors.Is(err, errNotImage):
		sendErrorResponse(w, "invalid_file_type", "Only image files are allowed!", http.StatusBadRequest)
	case errors.Is(err, detections.ErrNoImage):
		sendErrorResponse(w, "no_image", "No image file provided", http.StatusBadRequest)
	default:
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
	}
}

func (s *AppState) sendDetectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, detections.ErrNoImage):
		sendErrorResponse(w, "no_image", "No image file provided", http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.Log.WithError(err).Debug("Client went away during detection")
		sendErrorResponse(w, "request_cancelled", err.Error(), http.StatusServiceUnavailable)
	default:
		s.Log.WithError(err).Error("Error processing image")
		sendErrorResponse(w, "processing_error", "Failed to process image", http.StatusInternalServerError)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsReadTimeout = 60 * time.Second

// handleDetectWebsocket treats every binary frame as an image and every
// text frame as a {"image": base64} document, replying with one JSON
// message per frame.
func (s *AppState) handleDetectWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.Config.MaxUploadBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	log := s.Log.WithField("remote", r.RemoteAddr)
	log.Debug("Detection stream connected")

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("Detection stream closed")
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		data := msg
		if msgType == websocket.TextMessage {
			data, err = decodeBase64Image(msg)
			if err != nil {
				conn.WriteJSON(ErrorResponse{Code: "invalid_request", Message: err.Error()})
				continue
			}
		}
		if len(data) == 0 {
			conn.WriteJSON(ErrorResponse{Code: "no_image", Message: "No image file provided"})
			continue
		}

		resp, err := s.detect(r.Context(), data, "")
		if err != nil {
			log.WithError(err).Error("Error processing streamed image")
			conn.WriteJSON(ErrorResponse{Code: "processing_error", Message: "Failed to process image"})
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			log.WithError(err).Debug("Detection stream write failed")
			return
		}
	}
}

func (s *AppState) handleStorageAll(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.Store.All()
	if err != nil {
		s.Log.WithError(err).Error("Failed to list storage data")
		sendErrorResponse(w, "storage_error", "Failed to get storage data", http.StatusInternalServerError)
		return
	}

	data := make(map[string]models.AdvisoryRecord, len(entries))
	for _, e := range entries {
		data[e.Item] = e.AdvisoryRecord
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func (s *AppState) handleStorageSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		sendErrorResponse(w, "invalid_request", "Query parameter q is required", http.StatusBadRequest)
		return
	}

	results, err := s.Store.Search(q)
	if err != nil {
		s.Log.WithError(err).Error("Failed to search storage data")
		sendErrorResponse(w, "storage_error", "Failed to search storage data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"query":   q,
		"results": results,
	})
}

func (s *AppState) handleStorageItem(w http.ResponseWriter, r *http.Request) {
	item := storage.NormalizeKey(mux.Vars(r)["item"])
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"item":    item,
		"storage": s.Advisor.Lookup(item),
	})
}

func (s *AppState) handleStorageRemaining(w http.ResponseWriter, r *http.Request) {
	item := storage.NormalizeKey(mux.Vars(r)["item"])

	raw := r.URL.Query().Get("detected")
	if raw == "" {
		sendErrorResponse(w, "invalid_request", "Query parameter detected is required", http.StatusBadRequest)
		return
	}
	detectedAt, err := parseDetectionDate(raw)
	if err != nil {
		sendErrorResponse(w, "invalid_request", "detected must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"item":    item,
		"storage": s.Advisor.RemainingLife(item, detectedAt, time.Now()),
	})
}

func parseDetectionDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *AppState) handleStorageUpdate(w http.ResponseWriter, r *http.Request) {
	item := storage.NormalizeKey(mux.Vars(r)["item"])

	var patch storage.AdvisoryPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&patch); err != nil {
		sendErrorResponse(w, "invalid_request", "Invalid storage data", http.StatusBadRequest)
		return
	}

	rec, err := s.Store.Upsert(item, patch)
	if err != nil {
		s.Log.WithError(err).WithField("item", item).Error("Failed to update storage data")
		sendErrorResponse(w, "storage_error", "Failed to update storage data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"item":    item,
		"storage": rec,
	})
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"mode":           s.Pipeline.Mode().String(),
		"availability":   s.Pipeline.Availability().String(),
		"pipeline":       s.Pipeline.Stats(),
		"uptime_seconds": int64(time.Since(s.Started).Seconds()),
	}
	if pool, ok := s.Pipeline.PoolMetrics(); ok {
		response["pool"] = pool
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
