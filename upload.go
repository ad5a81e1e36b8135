package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tutortoise/freshtrack-service/detections"
)

var errNotImage = errors.New("uploaded file is not an image")

// readUpload extracts the image bytes from a multipart form (field
// "image"), a JSON body {"image": base64} or a raw body, capped at
// maxBytes. The returned extension comes from the uploaded file name when
// there is one.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var data []byte
	var ext string
	var err error
	switch mediaType {
	case "multipart/form-data":
		data, ext, err = handleMultipartRequest(r, maxBytes)
	case "application/json":
		data, err = handleJSONRequest(r)
	default:
		data, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", detections.ErrNoImage
	}
	return data, ext, nil
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, "", err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", detections.ErrNoImage
	}
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}

	// Trust the declared type, or the sniffed one when the client sent a
	// generic type.
	declared := header.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") && !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, "", errNotImage
	}

	return data, strings.ToLower(filepath.Ext(header.Filename)), nil
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return decodeBase64Image(body)
}

// decodeBase64Image decodes {"image": "<base64>"}. A data URL prefix is
// accepted.
func decodeBase64Image(body []byte) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	encoded := req.Image
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// saveUpload writes data to a uniquely named file in dir. The pipeline
// removes it once processed.
func saveUpload(dir string, data []byte, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "image-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return f.Name(), nil
}
