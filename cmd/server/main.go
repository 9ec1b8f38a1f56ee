package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/joho/godotenv"
)

var (
	port           int
	dbPath         string
	backend        string
	mongoURI       string
	tempDir        string
	sampleRate     int
	workers        int
	allowedOrigins string
)

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTIC_DB_PATH", "acousticprint.sqlite3"), "Catalog location: SQLite file or badger directory")
	flag.StringVar(&backend, "backend", getEnvOrDefault("ACOUSTIC_BACKEND", string(acousticprint.BackendSQLite)), "Storage backend: sqlite, badger or mongo")
	flag.StringVar(&mongoURI, "mongo", getEnvOrDefault("ACOUSTIC_MONGO_URI", ""), "MongoDB connection URI")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("ACOUSTIC_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.IntVar(&sampleRate, "rate", 11025, "Conditioned sample rate")
	flag.IntVar(&workers, "workers", getEnvInt("ACOUSTIC_WORKERS", 1), "Worker goroutines per request")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	log := logger.GetLogger().WithPrefix("server")

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
	}

	service, err := acousticprint.NewService(
		acousticprint.WithDBPath(dbPath),
		acousticprint.WithBackend(acousticprint.Backend(backend)),
		acousticprint.WithMongoURI(mongoURI),
		acousticprint.WithTempDir(tempDir),
		acousticprint.WithSampleRate(sampleRate),
		acousticprint.WithWorkers(workers),
		acousticprint.WithLogger(log),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		Backend:        backend,
		TempDir:        tempDir,
		SampleRate:     sampleRate,
		AllowedOrigins: origins,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(service, config, log)
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
	}
}
