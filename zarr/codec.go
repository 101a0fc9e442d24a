package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decompress undoes the chunk compressor named in the metadata.
// A nil compressor leaves the data untouched.
func decompress(c *CompressorConfig, data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	switch c.ID {
	case "zstd":
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	case "zlib":
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to init zlib reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to init gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", c.ID)
	}
}

// compress applies the chunk compressor named in the metadata.
func compress(c *CompressorConfig, data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	switch c.ID {
	case "zstd":
		level := zstd.SpeedDefault
		if c.Level > 0 {
			level = zstd.EncoderLevelFromZstd(c.Level)
		}
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	case "zlib":
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, compressionLevel(c.Level))
		if err != nil {
			return nil, fmt.Errorf("failed to init zlib writer: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "gzip":
		var buf bytes.Buffer
		gw, err := gzip.NewWriterLevel(&buf, compressionLevel(c.Level))
		if err != nil {
			return nil, fmt.Errorf("failed to init gzip writer: %w", err)
		}
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", c.ID)
	}
}

func compressionLevel(level int) int {
	if level <= 0 {
		return zlib.DefaultCompression
	}
	return level
}
