// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "br, gzip"

var (
	gzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
)

// decodeBody reads the whole response body and undoes the Content-Encoding
// layers in reverse order of application. Codings may be listed in one
// comma-separated header value, in repeated headers, or both.
func decodeBody(body io.Reader, encodings []string) ([]byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	var layers []string
	for _, value := range encodings {
		for _, enc := range strings.Split(value, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(enc)))
		}
	}
	for i := len(layers) - 1; i >= 0; i-- {
		raw, err = decodeLayer(raw, layers[i])
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func decodeLayer(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return data, nil
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		defer gzipReaderPool.Put(zr)
		if err := zr.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return io.ReadAll(zr)
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		defer brotliReaderPool.Put(br)
		if err := br.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		return io.ReadAll(br)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
