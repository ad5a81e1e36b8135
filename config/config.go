package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	UploadDir         string
	MaxUploadBytes    int64
	ModelPath         string
	LabelsPath        string // empty means the built-in food catalog
	OnnxLibraryPath   string // empty means the platform default under ./lib
	ForceMockMode     bool
	ConfThreshold     float64
	NMSThreshold      float64
	InputSize         int
	BoxCoordsPixels   bool // model emits boxes in input pixels rather than [0,1]
	InferenceTimeout  time.Duration
	InferenceSessions int
	StorageDBPath     string
	LogFile           string
	Debug             bool
}

// Load reads an optional .env file and then the process environment.
// Values that fail to parse keep their defaults.
func Load() *Config {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 3000),
		UploadDir:         getEnv("UPLOAD_DIR", filepath.Join(".", "uploads")),
		MaxUploadBytes:    getEnvAsInt64("MAX_UPLOAD_MB", 10) << 20,
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "models", "best.onnx")),
		LabelsPath:        getEnv("LABELS_PATH", ""),
		OnnxLibraryPath:   getEnv("ONNXRUNTIME_LIB", ""),
		ForceMockMode:     getEnvAsBool("FORCE_MOCK_MODE", false),
		ConfThreshold:     getEnvAsFloat("CONF_THRESHOLD", 0.5),
		NMSThreshold:      getEnvAsFloat("NMS_THRESHOLD", 0.4),
		InputSize:         getEnvAsInt("INPUT_SIZE", 640),
		BoxCoordsPixels:   getEnvAsBool("BOX_COORDS_PIXELS", true),
		InferenceTimeout:  getEnvAsDuration("INFERENCE_TIMEOUT", 10*time.Second),
		InferenceSessions: getEnvAsInt("INFERENCE_SESSIONS", 1),
		StorageDBPath:     getEnv("STORAGE_DB", filepath.Join(".", "data", "storage.db")),
		LogFile:           getEnv("LOG_FILE", ""),
		Debug:             getEnvAsBool("DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 && f <= 1 {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
