package fetcher

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// decode returns plain payload bytes. gzip is detected by magic bytes regardless of
// the declared encoding; brotli has no magic number and relies on the header.
func decode(raw []byte, contentEncoding string) ([]byte, error) {
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "br") {
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	}
	return raw, nil
}
