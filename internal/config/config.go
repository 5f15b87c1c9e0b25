package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFirebase = "firebase"
	BackendMongo    = "mongo"
	BackendJSON     = "json"
)

type Config struct {
	ServerAddress string
	Environment   string
	LogLevel      string

	StoreBackend string
	DataDir      string
	ScopePrefix  string
	PollInterval time.Duration
	// TrackerIdleTTL detaches a user's listener after this long without requests.
	TrackerIdleTTL time.Duration

	FirebaseProjectID       string
	FirebaseCredentialsJSON string
	FirebaseDatabaseURL     string

	MongoURI string
	MongoDB  string

	// JWTSecret enables HS256 bearer tokens when Firebase Auth is not configured.
	JWTSecret string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("APP_ENV", "production"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendJSON)),
		DataDir:      getEnv("DATA_DIR", "./data"),
		ScopePrefix:  getEnv("SCOPE_PREFIX", "users"),
		PollInterval: getDuration("POLL_INTERVAL", 5*time.Second),

		TrackerIdleTTL: getDuration("TRACKER_IDLE_TTL", 30*time.Minute),

		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseCredentialsJSON: os.Getenv("FIREBASE_CREDENTIALS_JSON"),
		FirebaseDatabaseURL:     os.Getenv("FIREBASE_DATABASE_URL"),

		MongoURI: os.Getenv("MONGO_URI"),
		MongoDB:  getEnv("MONGO_DB", "usefultools"),

		JWTSecret: os.Getenv("JWT_SECRET"),
	}
}

// FirebaseEnabled reports whether enough is set to talk to a Firebase project.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseProjectID != "" || c.FirebaseDatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
