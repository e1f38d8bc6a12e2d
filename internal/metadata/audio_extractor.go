package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhowden/tag"

	"github.com/mantonx/viewra-importer/internal/resource"
)

const AudioExtractorID ExtractorID = "audio"

// Attribute names of the audio aspect.
const (
	AttrArtist      = "artist"
	AttrAlbum       = "album"
	AttrAlbumArtist = "album_artist"
	AttrGenre       = "genre"
	AttrComposer    = "composer"
	AttrYear        = "year"
	AttrTrack       = "track"
	AttrTrackTotal  = "track_total"
	AttrDisc        = "disc"
	AttrTagFormat   = "tag_format"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true,
	".ogg": true, ".opus": true, ".wma": true, ".wav": true,
}

// AudioExtractor reads ID3, MP4, FLAC and OGG tags.
type AudioExtractor struct{}

func NewAudioExtractor() *AudioExtractor {
	return &AudioExtractor{}
}

func (e *AudioExtractor) Metadata() ExtractorMetadata {
	return ExtractorMetadata{
		ID:          AudioExtractorID,
		Name:        "Audio tags",
		Categories:  []string{CategoryAudio},
		AspectTypes: []AspectID{AspectMedia, AspectAudio},
	}
}

func (e *AudioExtractor) TryExtract(ctx context.Context, h resource.Handle, aspects Aspects) (bool, error) {
	if !h.IsFile() || !audioExtensions[extension(h.Name())] {
		return false, nil
	}

	file, err := h.Open()
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", h.Path(), err)
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read tags from %s: %w", h.Path(), err)
	}

	audio := aspects.GetOrCreate(AspectAudio)
	setIfNotEmpty(audio, AttrArtist, m.Artist())
	setIfNotEmpty(audio, AttrAlbum, m.Album())
	setIfNotEmpty(audio, AttrAlbumArtist, m.AlbumArtist())
	setIfNotEmpty(audio, AttrGenre, m.Genre())
	setIfNotEmpty(audio, AttrComposer, m.Composer())
	if m.Year() > 0 {
		audio.Set(AttrYear, m.Year())
	}
	if track, total := m.Track(); track > 0 {
		audio.Set(AttrTrack, track)
		if total > 0 {
			audio.Set(AttrTrackTotal, total)
		}
	}
	if disc, _ := m.Disc(); disc > 0 {
		audio.Set(AttrDisc, disc)
	}
	audio.Set(AttrTagFormat, string(m.Format()))

	if title := m.Title(); title != "" {
		aspects.GetOrCreate(AspectMedia).Set(AttrTitle, title)
	}
	return true, nil
}

func setIfNotEmpty(a *Aspect, key, value string) {
	if value != "" {
		a.Set(key, value)
	}
}
