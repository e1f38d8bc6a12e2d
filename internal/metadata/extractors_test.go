package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/viewra-importer/internal/resource"
)

func writeFile(t *testing.T, root, name string, data []byte) resource.Handle {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0644))
	accessor := &resource.LocalAccessor{Root: root}
	h, err := accessor.Resolve(resource.Path("/" + name))
	require.NoError(t, err)
	return h
}

func writePNG(t *testing.T, root, name string, w, h int) resource.Handle {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(root, name))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	accessor := &resource.LocalAccessor{Root: root}
	handle, err := accessor.Resolve(resource.Path("/" + name))
	require.NoError(t, err)
	return handle
}

func TestResourceExtractor(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	e := NewResourceExtractor()

	pic := writePNG(t, root, "cover.png", 4, 3)
	aspects := make(Aspects)
	ok, err := e.TryExtract(ctx, pic, aspects)
	require.NoError(t, err)
	require.True(t, ok)
	media := aspects[AspectMedia]
	require.NotNil(t, media)
	assert.Equal(t, "cover", media.Attributes[AttrTitle])
	assert.Equal(t, "image/png", media.Attributes[AttrMimeType])
	assert.Equal(t, pic.Size(), media.Attributes[AttrSize])
	assert.Regexp(t, "^[0-9a-f]{64}$", media.Attributes[AttrContentHash])

	text := writeFile(t, root, "notes.txt", []byte("just some notes"))
	aspects = make(Aspects)
	ok, err = e.TryExtract(ctx, text, aspects)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, aspects)
}

func TestSampledHash(t *testing.T) {
	small := bytes.Repeat([]byte("a"), 1024)
	h1, err := sampledHash(bytes.NewReader(small), int64(len(small)))
	require.NoError(t, err)
	h2, err := sampledHash(bytes.NewReader(small), int64(len(small)))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	large := bytes.Repeat([]byte("b"), int(hashSampleSize*4))
	before, err := sampledHash(bytes.NewReader(large), int64(len(large)))
	require.NoError(t, err)
	large[len(large)/2] = 'c'
	middle, err := sampledHash(bytes.NewReader(large), int64(len(large)))
	require.NoError(t, err)
	assert.NotEqual(t, before, middle)

	// bytes outside the sampled windows do not change the fingerprint
	large[hashSampleSize+10] = 'd'
	unsampled, err := sampledHash(bytes.NewReader(large), int64(len(large)))
	require.NoError(t, err)
	assert.Equal(t, middle, unsampled)
}

func TestImageExtractor(t *testing.T) {
	root := t.TempDir()
	e := NewImageExtractor()

	pic := writePNG(t, root, "poster.png", 8, 5)
	aspects := make(Aspects)
	ok, err := e.TryExtract(context.Background(), pic, aspects)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8, aspects[AspectImage].Attributes[AttrWidth])
	assert.Equal(t, 5, aspects[AspectImage].Attributes[AttrHeight])
	assert.Equal(t, "png", aspects[AspectImage].Attributes[AttrImageFormat])

	garbage := writeFile(t, root, "broken.jpg", []byte("not an image at all"))
	ok, err = e.TryExtract(context.Background(), garbage, make(Aspects))
	require.NoError(t, err)
	assert.False(t, ok)

	song := writeFile(t, root, "song.mp3", []byte("x"))
	ok, err = e.TryExtract(context.Background(), song, make(Aspects))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAudioExtractor_NoTags(t *testing.T) {
	root := t.TempDir()
	e := NewAudioExtractor()

	untagged := writeFile(t, root, "untagged.mp3", make([]byte, 256))
	ok, err := e.TryExtract(context.Background(), untagged, make(Aspects))
	require.NoError(t, err)
	assert.False(t, ok)

	video := writeFile(t, root, "clip.mp4", make([]byte, 256))
	ok, err = e.TryExtract(context.Background(), video, make(Aspects))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAudioExtractor_ID3v1(t *testing.T) {
	root := t.TempDir()
	e := NewAudioExtractor()

	tagBlock := make([]byte, 128)
	copy(tagBlock[0:], "TAG")
	copy(tagBlock[3:], "Blue Monday")
	copy(tagBlock[33:], "New Order")
	copy(tagBlock[63:], "Power, Corruption")
	copy(tagBlock[93:], "1983")
	tagBlock[127] = 255
	data := append(make([]byte, 512), tagBlock...)

	song := writeFile(t, root, "blue.mp3", data)
	aspects := make(Aspects)
	ok, err := e.TryExtract(context.Background(), song, aspects)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "New Order", aspects[AspectAudio].Attributes[AttrArtist])
	assert.Equal(t, "Power, Corruption", aspects[AspectAudio].Attributes[AttrAlbum])
	assert.Equal(t, "Blue Monday", aspects[AspectMedia].Attributes[AttrTitle])
}

// Store the original execCommand to restore it after tests
var originalExecCommand = execCommand

func mockExecCommandOutput(t *testing.T, expectedCommand string, output []byte, errToReturn error) {
	t.Helper()
	execCommand = func(ctx context.Context, command string, args ...string) *exec.Cmd {
		assert.Equal(t, expectedCommand, command, "execCommand command mismatch")

		cs := []string{"-test.run=TestHelperProcess", "--", command}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_PROCESS_STDOUT=%s", string(output)),
		}
		if errToReturn != nil {
			cmd.Env = append(cmd.Env, fmt.Sprintf("GO_HELPER_PROCESS_ERR=%s", errToReturn.Error()))
		}
		return cmd
	}
	t.Cleanup(func() {
		execCommand = originalExecCommand
	})
}

// TestHelperProcess isn't a real test but a helper used by mockExecCommandOutput.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_PROCESS_STDOUT"))
	if errMsg := os.Getenv("GO_HELPER_PROCESS_ERR"); errMsg != "" {
		fmt.Fprint(os.Stderr, errMsg)
		os.Exit(1)
	}
}

func TestVideoExtractor(t *testing.T) {
	root := t.TempDir()
	movie := writeFile(t, root, "movie.mkv", []byte("matroska"))

	output := `{
		"format": {"format_name": "matroska,webm", "duration": "5400.5", "bit_rate": "4000000", "tags": {"title": "The Movie"}},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "audio", "codec_name": "ac3"}
		]
	}`
	mockExecCommandOutput(t, "/usr/bin/ffprobe", []byte(output), nil)

	e := NewVideoExtractor("/usr/bin/ffprobe")
	aspects := make(Aspects)
	ok, err := e.TryExtract(context.Background(), movie, aspects)
	require.NoError(t, err)
	require.True(t, ok)

	video := aspects[AspectVideo]
	assert.Equal(t, "h264", video.Attributes[AttrVideoCodec])
	assert.Equal(t, 1920, video.Attributes[AttrWidth])
	assert.Equal(t, 1080, video.Attributes[AttrHeight])
	assert.Equal(t, "aac", video.Attributes[AttrAudioCodec])
	assert.Equal(t, 2, video.Attributes[AttrAudioTracks])
	assert.Equal(t, 5400.5, video.Attributes[AttrDuration])
	assert.Equal(t, int64(4000000), video.Attributes[AttrBitrate])
	assert.Equal(t, "The Movie", aspects[AspectMedia].Attributes[AttrTitle])
}

func TestVideoExtractor_Failure(t *testing.T) {
	root := t.TempDir()
	movie := writeFile(t, root, "movie.mp4", []byte("moov"))
	mockExecCommandOutput(t, "ffprobe", nil, fmt.Errorf("invalid data"))

	e := NewVideoExtractor("")
	ok, err := e.TryExtract(context.Background(), movie, make(Aspects))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestVideoExtractor_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	song := writeFile(t, root, "song.flac", []byte("fLaC"))

	e := NewVideoExtractor("")
	ok, err := e.TryExtract(context.Background(), song, make(Aspects))
	require.NoError(t, err)
	assert.False(t, ok)
}
