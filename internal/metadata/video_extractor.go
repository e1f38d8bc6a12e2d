package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/mantonx/viewra-importer/internal/resource"
)

const VideoExtractorID ExtractorID = "video"

// Attribute names of the video aspect.
const (
	AttrDuration    = "duration"
	AttrWidth       = "width"
	AttrHeight      = "height"
	AttrVideoCodec  = "video_codec"
	AttrAudioCodec  = "audio_codec"
	AttrBitrate     = "bitrate"
	AttrContainer   = "container"
	AttrAudioTracks = "audio_tracks"
)

// execCommand is a variable to allow mocking of exec.CommandContext in tests.
var execCommand = exec.CommandContext

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".ts": true, ".m2ts": true,
}

// FFProbeOutput is the subset of ffprobe's JSON output the extractor reads.
type FFProbeOutput struct {
	Format  FFProbeFormat   `json:"format"`
	Streams []FFProbeStream `json:"streams"`
}

type FFProbeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type FFProbeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// VideoExtractor probes video containers with ffprobe.
type VideoExtractor struct {
	ffprobePath string
}

// NewVideoExtractor creates the extractor. An empty path means "ffprobe"
// from PATH.
func NewVideoExtractor(ffprobePath string) *VideoExtractor {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &VideoExtractor{ffprobePath: ffprobePath}
}

func (e *VideoExtractor) Metadata() ExtractorMetadata {
	return ExtractorMetadata{
		ID:          VideoExtractorID,
		Name:        "FFprobe video",
		Categories:  []string{CategoryVideo},
		AspectTypes: []AspectID{AspectMedia, AspectVideo},
	}
}

func (e *VideoExtractor) TryExtract(ctx context.Context, h resource.Handle, aspects Aspects) (bool, error) {
	if !h.IsFile() || !videoExtensions[extension(h.Name())] {
		return false, nil
	}
	local, ok := h.(resource.LocalFile)
	if !ok {
		return false, nil
	}

	cmd := execCommand(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		local.LocalPath())

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("ffprobe failed for %s: %w", h.Path(), err)
	}

	var probe FFProbeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return false, fmt.Errorf("failed to parse ffprobe output for %s: %w", h.Path(), err)
	}

	video := aspects.GetOrCreate(AspectVideo)
	if probe.Format.FormatName != "" {
		video.Set(AttrContainer, probe.Format.FormatName)
	}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		video.Set(AttrDuration, d)
	}
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		video.Set(AttrBitrate, b)
	}

	audioTracks := 0
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if _, set := video.Get(AttrVideoCodec); set {
				continue
			}
			video.Set(AttrVideoCodec, stream.CodecName)
			video.Set(AttrWidth, stream.Width)
			video.Set(AttrHeight, stream.Height)
		case "audio":
			if audioTracks == 0 {
				video.Set(AttrAudioCodec, stream.CodecName)
			}
			audioTracks++
		}
	}
	video.Set(AttrAudioTracks, audioTracks)

	if title := tagValue(probe.Format.Tags, "title", "TITLE", "Title"); title != "" {
		aspects.GetOrCreate(AspectMedia).Set(AttrTitle, title)
	}
	return true, nil
}

func tagValue(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
