package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/facelink/internal/constants"
)

type Config struct {
	API     APIConfig
	Camera  CameraConfig
	Device  DeviceConfig
	Session SessionConfig
	Cache   CacheConfig
	Web     WebConfig
	Log     LogConfig
}

type APIConfig struct {
	URL        string        // detection service base URL, e.g. http://localhost:5000/api
	Timeout    time.Duration // per-request timeout
	CaptureDir string        // dump raw JSON responses here when set
}

// PhotoLink returns an OSC 8 hyperlink for terminal emulators that displays
// the filename and opens the photo served by the detection service.
// Returns the bare filename if the API URL is not set.
func (c *APIConfig) PhotoLink(filename string) string {
	if c.URL == "" {
		return filename
	}
	link := strings.TrimSuffix(c.URL, "/") + "/photos/" + url.PathEscape(filename)
	// OSC 8 hyperlink format: \e]8;;URL\e\\TEXT\e]8;;\e\\
	return "\x1b]8;;" + link + "\x1b\\" + filename + "\x1b]8;;\x1b\\"
}

type CameraConfig struct {
	Device      int    // video device index for the gocv webcam
	StillsDir   string // directory of still images used instead of a webcam
	JPEGQuality int    // defaults to 92
	FrameWidth  int    // defaults to 720
	FrameHeight int    // defaults to 480
}

type DeviceConfig struct {
	ContactsFile string   // YAML file exported by the native bridge
	Grants       []string // resources treated as already granted
	Interactive  bool     // ask on the terminal before granting
}

type SessionConfig struct {
	DetectPolicy string // accept-last or reject-stale
}

type CacheConfig struct {
	Dir string // photo blob cache
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads a Go duration such as "30s". Invalid or non-positive
// values yield the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "facelink")
}

func Load() *Config {
	return &Config{
		API: APIConfig{
			URL:        envString("FACELINK_API_URL", constants.DefaultAPIURL),
			Timeout:    envDuration("FACELINK_API_TIMEOUT", constants.DefaultRequestTimeout),
			CaptureDir: os.Getenv("FACELINK_CAPTURE_DIR"),
		},
		Camera: CameraConfig{
			Device:      envInt("FACELINK_CAMERA_DEVICE", 0),
			StillsDir:   os.Getenv("FACELINK_CAMERA_STILLS"),
			JPEGQuality: min(envInt("FACELINK_JPEG_QUALITY", constants.DefaultJPEGQuality), 100),
			FrameWidth:  envInt("FACELINK_FRAME_WIDTH", constants.DefaultFrameWidth),
			FrameHeight: envInt("FACELINK_FRAME_HEIGHT", constants.DefaultFrameHeight),
		},
		Device: DeviceConfig{
			ContactsFile: os.Getenv("FACELINK_DEVICE_CONTACTS"),
			Grants:       envList("FACELINK_DEVICE_GRANTS"),
			Interactive:  envBool("FACELINK_INTERACTIVE"),
		},
		Session: SessionConfig{
			DetectPolicy: os.Getenv("FACELINK_DETECT_POLICY"),
		},
		Cache: CacheConfig{
			Dir: envString("FACELINK_CACHE_DIR", defaultCacheDir()),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "localhost"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("FACELINK_LOG_LEVEL", "info"),
			Format: envString("FACELINK_LOG_FORMAT", "auto"),
		},
	}
}
