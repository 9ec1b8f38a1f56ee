package acousticprint

import (
	"os"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
)

type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
	BackendMongo  Backend = "mongo"
)

type Config struct {
	DBPath     string
	Backend    Backend
	MongoURI   string
	TempDir    string
	SampleRate int
	// Workers bounds chunk analysis and per-song scoring goroutines.
	Workers int
	Logger  Logger
	Storage Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithBackend(b Backend) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

func WithMongoURI(uri string) Option {
	return func(c *Config) {
		c.MongoURI = uri
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithStorage injects a ready store; DBPath, Backend and MongoURI are then
// ignored.
func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:     "acousticprint.sqlite3",
		Backend:    BackendSQLite,
		TempDir:    os.TempDir(),
		SampleRate: audio.DefaultTargetRate,
		Workers:    1,
	}
}
