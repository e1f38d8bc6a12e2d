package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashSampleSize is the size of each sampled chunk.
const hashSampleSize = int64(1024 * 1024)

// sampledHash fingerprints a file from its size and up to three 1MB
// samples taken at the start, middle and end.
func sampledHash(r io.ReadSeeker, size int64) (string, error) {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "size:%d", size)

	offsets := []int64{0}
	if size > hashSampleSize*3 {
		offsets = append(offsets, size/2-hashSampleSize/2)
	}
	if size > hashSampleSize*2 {
		offsets = append(offsets, size-hashSampleSize)
	}

	buffer := make([]byte, hashSampleSize)
	for _, offset := range offsets {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return "", err
		}
		n, err := io.ReadFull(r, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return "", err
		}
		hasher.Write(buffer[:n])
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
