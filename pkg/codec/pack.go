package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// packFields gzips the JSON form of the wire field map and base64-encodes
// it for the metadata namespace, which only carries printable ASCII.
func packFields(wire map[string]string) (string, error) {
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress fields: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress fields: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// unpackFields reverses packFields.
func unpackFields(packed string) (map[string]string, error) {
	compressed, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, fmt.Errorf("decode packed fields: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open packed fields: %w", err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress fields: %w", err)
	}

	var wire map[string]string
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse packed fields: %w", err)
	}
	return wire, nil
}
