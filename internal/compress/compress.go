// Package compress encodes outbound request bodies and decodes inbound
// ones according to their Content-Encoding.
package compress

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm names accepted in configuration.
const (
	None   = "none"
	Gzip   = "gzip"
	Zstd   = "zstd"
	Zlib   = "zlib"
	Snappy = "snappy"
)

// Valid reports whether algorithm is a supported configuration value.
// The empty string means None.
func Valid(algorithm string) bool {
	switch algorithm {
	case "", None, Gzip, Zstd, Zlib, Snappy:
		return true
	default:
		return false
	}
}

// Compressor compresses data using a specified algorithm.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a new Compressor for the specified algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !Valid(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	// Pre-create zstd encoder since it's expensive to create.
	if algorithm == Zstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	}

	return c, nil
}

// Compress compresses the data using the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case None, "":
		return data, nil
	case Gzip:
		return compressGzip(data)
	case Zstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case Zlib:
		return compressZlib(data)
	case Snappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Zlib:
		return "deflate"
	case Snappy:
		return "snappy"
	default:
		return ""
	}
}

// Close closes the compressor and releases resources.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// Decode returns a reader yielding the decoded body for the given
// Content-Encoding header value. The empty string and "identity" pass
// r through.
func Decode(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}

		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening deflate body: %w", err)
		}

		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd body: %w", err)
		}

		return zr.IOReadCloser(), nil
	case "snappy":
		// Block format, matching Compress.
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading snappy body: %w", err)
		}

		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decoding snappy body: %w", err)
		}

		return io.NopCloser(bytes.NewReader(decoded)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	return buf.Bytes(), nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := zlib.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), nil
}
