package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service acousticprint.Service
	config  *ServerConfig
	log     acousticprint.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	Backend        string
	TempDir        string
	SampleRate     int
	AllowedOrigins []string
}

func NewServer(service acousticprint.Service, config *ServerConfig, log acousticprint.Logger) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     log,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "acousticprint API",
		"endpoints": map[string]string{
			"health":            "GET /health",
			"metrics":           "GET /api/health/metrics",
			"songs":             "GET /api/songs",
			"addSongFile":       "POST /api/songs",
			"getSong":           "GET /api/songs/{id}",
			"deleteSong":        "DELETE /api/songs/{id}",
			"matchFile":         "POST /api/match",
			"matchFingerprints": "POST /api/match/fingerprints",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs(r.Context())
	if err != nil {
		s.log.Errorf("Failed to get song count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	total := 0
	for _, song := range songs {
		total += song.FingerprintCount
	}
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:           "healthy",
		Backend:          s.config.Backend,
		DatabasePath:     s.config.DBPath,
		SongCount:        len(songs),
		FingerprintCount: total,
		SampleRate:       s.config.SampleRate,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list songs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve songs")
		return
	}

	dtos := make([]SongDTO, len(songs))
	for i, song := range songs {
		dtos[i] = toSongDTO(song)
	}
	s.respondJSON(w, http.StatusOK, ListSongsResponse{Songs: dtos, Count: len(dtos)})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	songID := r.PathValue("id")
	song, err := s.service.GetSong(r.Context(), songID)
	if err != nil {
		s.respondStoreError(w, songID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSongDTO(*song))
}

// handleDeleteSong handles DELETE /api/songs/{id}
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request) {
	songID := r.PathValue("id")
	if err := s.service.DeleteSong(r.Context(), songID); err != nil {
		s.respondStoreError(w, songID, err)
		return
	}

	s.log.Infof("Deleted song %s", songID)
	s.respondJSON(w, http.StatusOK, DeleteSongResponse{
		Message: "Song deleted successfully",
		ID:      songID,
	})
}

func (s *Server) respondStoreError(w http.ResponseWriter, songID string, err error) {
	if errors.Is(err, storage.ErrSongNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Song with ID %s not found", songID))
		return
	}
	s.log.Errorf("Catalog error for song %s: %v", songID, err)
	s.respondError(w, http.StatusInternalServerError, "Catalog error")
}

// saveUpload copies the multipart "audio" file into the temp dir, keeping
// its extension so WAV uploads skip conversion.
func (s *Server) saveUpload(r *http.Request, prefix string) (string, *multipart.FileHeader, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", nil, fmt.Errorf("audio file is required")
	}
	defer file.Close()

	name := fmt.Sprintf("%s_%d%s", prefix, time.Now().UnixNano(), filepath.Ext(filepath.Base(header.Filename)))
	path := filepath.Join(s.config.TempDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, header, nil
}

// handleAddSongFile handles POST /api/songs (multipart file upload).
// Missing title or artist fall back to the file's tags and name.
func (s *Server) handleAddSongFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	tempFile, header, err := s.saveUpload(r, "upload")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	title := r.FormValue("title")
	artist := r.FormValue("artist")
	if title == "" || artist == "" {
		guessedTitle, guessedArtist := audio.GuessTitleArtist(tempFile)
		if title == "" {
			title = guessedTitle
		}
		if artist == "" {
			artist = guessedArtist
		}
	}

	s.log.Infof("Adding song from upload %s: %s by %s", header.Filename, title, artist)
	songID, err := s.service.AddSong(ctx, tempFile, title, artist)
	if err != nil {
		s.log.Errorf("Failed to add song: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to add song: %v", err))
		return
	}

	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message: "Song added successfully",
		ID:      songID,
		Title:   title,
		Artist:  artist,
	})
}

// handleMatchFile handles POST /api/match (multipart file upload)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(50 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	tempFile, header, err := s.saveUpload(r, "query")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	s.log.Infof("Matching uploaded file: %s", header.Filename)
	matches, err := s.service.MatchSong(ctx, tempFile)
	if err != nil {
		s.log.Errorf("Failed to match song: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to match song: %v", err))
		return
	}

	dtos := toMatchDTOs(matches)
	s.respondJSON(w, http.StatusOK, MatchResponse{Matches: dtos, Count: len(dtos)})
}

// handleMatchFingerprints handles POST /api/match/fingerprints for clients
// that fingerprint locally.
func (s *Server) handleMatchFingerprints(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req MatchFingerprintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Fingerprints) >= FingerprintWarningThreshold {
		s.log.Warnf("Large fingerprint query received: %d fingerprints", len(req.Fingerprints))
	}

	matches, err := s.service.MatchFingerprints(ctx, req.ToModels())
	if err != nil {
		s.log.Errorf("Failed to match fingerprints: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to match fingerprints: %v", err))
		return
	}

	dtos := toMatchDTOs(matches)
	s.respondJSON(w, http.StatusOK, MatchResponse{Matches: dtos, Count: len(dtos)})
}
