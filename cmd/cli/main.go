package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/himanishpuri/acousticprint/internal/indexer"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/joho/godotenv"
)

// Global flags
var (
	dbPath     string
	backend    string
	mongoURI   string
	tempDir    string
	sampleRate int
	workers    int
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func registerFlags() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTIC_DB_PATH", "acousticprint.sqlite3"), "Catalog location: SQLite file or badger directory")
	flag.StringVar(&backend, "backend", getEnvOrDefault("ACOUSTIC_BACKEND", string(acousticprint.BackendSQLite)), "Storage backend: sqlite, badger or mongo")
	flag.StringVar(&mongoURI, "mongo", getEnvOrDefault("ACOUSTIC_MONGO_URI", ""), "MongoDB connection URI for the mongo backend")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("ACOUSTIC_TEMP_DIR", os.TempDir()), "Directory for temporary audio conversion files")
	flag.IntVar(&sampleRate, "rate", 11025, "Conditioned sample rate")
	flag.IntVar(&workers, "workers", getEnvInt("ACOUSTIC_WORKERS", 1), "Worker goroutines for analysis and indexing")
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

// createService creates a new service with configured options
func createService() (acousticprint.Service, error) {
	return acousticprint.NewService(
		acousticprint.WithDBPath(dbPath),
		acousticprint.WithBackend(acousticprint.Backend(backend)),
		acousticprint.WithMongoURI(mongoURI),
		acousticprint.WithTempDir(tempDir),
		acousticprint.WithSampleRate(sampleRate),
		acousticprint.WithWorkers(workers),
	)
}

func mustService() acousticprint.Service {
	svc, err := createService()
	if err != nil {
		failColor.Printf("❌ Failed to create service: %v\n", err)
		logger.Fatalf("Service initialization failed: %v", err)
	}
	return svc
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	registerFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()

	args := flag.Args()
	if len(args) < 1 {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := args[0]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "add":
		handleAdd(ctx, args[1:])
	case "match":
		handleMatch(ctx, args[1:])
	case "list":
		handleList(ctx)
	case "delete":
		handleDelete(ctx, args[1:])
	case "index":
		handleIndex(ctx, args[1:])
	case "spectrogram":
		handleSpectrogram(ctx, args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
    _                       _   _                 _       _
   /_\  __ ___ _  _ __| |_(_)__ _ __ _ _(_)_ _| |_
  / _ \/ _/ _ \ || (_-<  _| / _| '_ \ '_| | ' \  _|
 /_/ \_\__\___/\_,_/__/\__|_\__| .__/_| |_|_||_\__|
                               |_|
           Acoustic Fingerprinting CLI
`
	fmt.Println(banner)
}

// splitArgs separates the leading positional argument from trailing flags.
func splitArgs(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func handleAdd(ctx context.Context, args []string) {
	log := logger.GetLogger()

	audioPath, flagArgs := splitArgs(args)

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	title := addCmd.String("title", "", "Song title (defaults to tags or file name)")
	artist := addCmd.String("artist", "", "Artist name (defaults to tags or file name)")
	addCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Usage: acousticprint add <audio_file> [--title <title>] [--artist <artist>]")
		os.Exit(1)
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		failColor.Printf("❌ Cannot read %s: %v\n", audioPath, err)
		os.Exit(1)
	}

	if *title == "" || *artist == "" {
		guessedTitle, guessedArtist := audio.GuessTitleArtist(audioPath)
		if *title == "" {
			*title = guessedTitle
		}
		if *artist == "" {
			*artist = guessedArtist
		}
		log.Infof("Using title %q and artist %q", *title, *artist)
	}

	svc := mustService()
	defer svc.Close()

	fmt.Printf("🎵 Processing %s (%s)...\n", audioPath, humanize.Bytes(uint64(info.Size())))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	songID, err := svc.AddSong(ctx, audioPath, *title, *artist)
	if err != nil {
		failColor.Printf("\n❌ Failed to add song: %v\n", err)
		log.Errorf("AddSong failed: %v", err)
		os.Exit(1)
	}

	song, err := svc.GetSong(ctx, songID)
	if err != nil {
		log.Warnf("Could not reload song %s: %v", songID, err)
	}

	okColor.Println("\n✅ Song is in the catalog")
	fmt.Printf("   ID:      %s\n", songID)
	fmt.Printf("   Title:   %s\n", *title)
	fmt.Printf("   Artist:  %s\n", *artist)
	if song != nil {
		fmt.Printf("   Length:  %s\n", formatDuration(song.DurationMs))
		if song.FingerprintCount > 0 {
			fmt.Printf("   Prints:  %s\n", humanize.Comma(int64(song.FingerprintCount)))
		}
	}
}

func handleMatch(ctx context.Context, args []string) {
	log := logger.GetLogger()

	audioPath, flagArgs := splitArgs(args)
	matchCmd := flag.NewFlagSet("match", flag.ExitOnError)
	top := matchCmd.Int("top", 10, "Maximum number of matches to print")
	matchCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Usage: acousticprint match <audio_file> [--top <n>]")
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	fmt.Println("🔍 Analyzing audio file...")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	results, err := svc.MatchSong(ctx, audioPath)
	if err != nil {
		failColor.Printf("\n❌ Failed to match song: %v\n", err)
		log.Errorf("MatchSong failed: %v", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	if len(results) == 0 {
		failColor.Println("\n❌ No matches found in catalog")
		return
	}

	okColor.Printf("\n✅ Found %d match(es) in %s\n\n", len(results), elapsed.Round(time.Millisecond))

	maxDisplay := *top
	if maxDisplay <= 0 || len(results) < maxDisplay {
		maxDisplay = len(results)
	}
	for i, result := range results[:maxDisplay] {
		fmt.Printf("%d. \"%s\" by %s\n", i+1, result.Title, result.Artist)
		fmt.Printf("   Votes: %d | Confidence: %.1f%% | At: %.1fs\n",
			result.MatchedCount, result.Confidence*100, result.TimeOffset)
		dimColor.Printf("   %s\n\n", result.SongID)
	}
	if len(results) > maxDisplay {
		fmt.Printf("... and %d more matches\n", len(results)-maxDisplay)
	}
}

func handleList(ctx context.Context) {
	log := logger.GetLogger()

	svc := mustService()
	defer svc.Close()

	songs, err := svc.ListSongs(ctx)
	if err != nil {
		failColor.Printf("❌ Failed to list songs: %v\n", err)
		log.Errorf("ListSongs failed: %v", err)
		os.Exit(1)
	}

	if len(songs) == 0 {
		fmt.Println("\n📭 No songs in catalog")
		return
	}

	fmt.Printf("\n📚 Found %s song(s):\n\n", humanize.Comma(int64(len(songs))))
	for i, song := range songs {
		fmt.Printf("%d. \"%s\" by %s\n", i+1, song.Title, song.Artist)
		dimColor.Printf("   ID: %s\n", song.ID)
		if song.DurationMs > 0 {
			fmt.Printf("   Duration: %s\n", formatDuration(song.DurationMs))
		}
		if song.FingerprintCount > 0 {
			fmt.Printf("   Fingerprints: %s\n", humanize.Comma(int64(song.FingerprintCount)))
		}
		fmt.Println()
	}
}

func handleDelete(ctx context.Context, args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: acousticprint delete <song_id>")
		os.Exit(1)
	}
	songID := args[0]

	svc := mustService()
	defer svc.Close()

	song, err := svc.GetSong(ctx, songID)
	if err != nil {
		if errors.Is(err, storage.ErrSongNotFound) {
			failColor.Printf("❌ Song not found (ID: %s)\n", songID)
		} else {
			failColor.Printf("❌ Failed to load song: %v\n", err)
		}
		os.Exit(1)
	}

	if err := svc.DeleteSong(ctx, songID); err != nil {
		failColor.Printf("❌ Failed to delete song: %v\n", err)
		log.Errorf("DeleteSong failed: %v", err)
		os.Exit(1)
	}

	okColor.Printf("\n✅ Successfully deleted song:\n")
	fmt.Printf("   ID:     %s\n", song.ID)
	fmt.Printf("   Title:  %s\n", song.Title)
	fmt.Printf("   Artist: %s\n", song.Artist)
	log.Infof("Deleted song %s (%s)", song.ID, song.Title)
}

func handleIndex(ctx context.Context, args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: acousticprint index <directory>")
		os.Exit(1)
	}
	root := args[0]

	svc := mustService()
	defer svc.Close()

	start := time.Now()
	summary, err := indexer.Run(ctx, svc, root, indexer.Options{
		Workers:  workers,
		Progress: os.Stderr,
		Log:      log,
	})
	if err != nil {
		failColor.Printf("❌ Indexing failed: %v\n", err)
		log.Errorf("Index failed: %v", err)
		os.Exit(1)
	}

	okColor.Printf("\n✅ Indexed %s in %s\n", root, time.Since(start).Round(time.Second))
	fmt.Printf("   Added:   %s\n", humanize.Comma(int64(summary.Added)))
	fmt.Printf("   Skipped: %s\n", humanize.Comma(int64(summary.Skipped)))
	if summary.Failed > 0 {
		failColor.Printf("   Failed:  %s\n", humanize.Comma(int64(summary.Failed)))
		for _, r := range summary.Files {
			if r.Err != nil {
				dimColor.Printf("     %s: %v\n", r.Path, r.Err)
			}
		}
	}
}

func formatDuration(ms int) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func printUsage() {
	fmt.Println("acousticprint - Acoustic Fingerprinting CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        Catalog file or directory (env: ACOUSTIC_DB_PATH, default: acousticprint.sqlite3)")
	fmt.Println("  --backend <name>   sqlite, badger or mongo (env: ACOUSTIC_BACKEND, default: sqlite)")
	fmt.Println("  --mongo <uri>      MongoDB URI for the mongo backend (env: ACOUSTIC_MONGO_URI)")
	fmt.Println("  --temp <dir>       Temporary directory for audio conversion (env: ACOUSTIC_TEMP_DIR)")
	fmt.Println("  --rate <hz>        Conditioned sample rate (default: 11025)")
	fmt.Println("  --workers <n>      Analysis and indexing workers (env: ACOUSTIC_WORKERS, default: 1)")
	fmt.Println("\nUsage:")
	fmt.Println("  acousticprint [global-options] add <audio_file> [--title <title>] [--artist <artist>]")
	fmt.Println("  acousticprint [global-options] match <audio_file> [--top <n>]")
	fmt.Println("  acousticprint [global-options] list")
	fmt.Println("  acousticprint [global-options] delete <song_id>")
	fmt.Println("  acousticprint [global-options] index <directory>")
	fmt.Println("  acousticprint [global-options] spectrogram <audio_file> [--out <png>] [--width <px>] [--height <px>]")
	fmt.Println("\nExamples:")
	fmt.Println("  acousticprint --db catalog.sqlite3 add song.mp3 --title \"Song\" --artist \"Artist\"")
	fmt.Println("  acousticprint --backend badger --db ./catalog --workers 4 index ~/Music")
	fmt.Println("  acousticprint match query.wav")
}
