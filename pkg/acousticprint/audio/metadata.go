package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

type Metadata struct {
	Filename string
	Title    string
	Artist   string
	Album    string
	Format   string
}

// ReadTags reads embedded ID3/MP4/FLAC/OGG tags. Files without tags
// (plain WAV included) return an error wrapping tag.ErrNoTagsFound.
func ReadTags(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("reading tags from %s: %w", filepath.Base(path), err)
	}
	return &Metadata{
		Filename: filepath.Base(path),
		Title:    strings.TrimSpace(m.Title()),
		Artist:   strings.TrimSpace(m.Artist()),
		Album:    strings.TrimSpace(m.Album()),
		Format:   string(m.FileType()),
	}, nil
}

// GuessTitleArtist resolves a display title and artist for path, preferring
// embedded tags and falling back to an "Artist - Title" file name.
func GuessTitleArtist(path string) (title, artist string) {
	if meta, err := ReadTags(path); err == nil {
		title, artist = meta.Title, meta.Artist
	}
	if title != "" && artist != "" {
		return title, artist
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if a, t, ok := strings.Cut(base, " - "); ok {
		if artist == "" {
			artist = strings.TrimSpace(a)
		}
		if title == "" {
			title = strings.TrimSpace(t)
		}
	}
	if title == "" {
		title = base
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	return title, artist
}
