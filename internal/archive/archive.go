// Package archive writes extracted flights and segments to a single
// msgpack encoded, zstd compressed file for offline consumers.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/yegors/flightphase/internal/adsb"
)

// Version is bumped whenever the Bundle layout changes
const Version = 1

// Bundle is the archived output of one run
type Bundle struct {
	Version  int           `msgpack:"version"`
	Created  int64         `msgpack:"created"` // unix seconds
	Flights  []adsb.Record `msgpack:"flights"`
	Segments []adsb.Record `msgpack:"segments"`
}

// NewBundle returns an empty bundle stamped with the current version
func NewBundle(created int64) *Bundle {
	return &Bundle{Version: Version, Created: created}
}

// Add appends a flight and its segments
func (b *Bundle) Add(f adsb.Flight, segs []adsb.PhaseSegment) {
	b.Flights = append(b.Flights, f.Record())
	for _, s := range segs {
		b.Segments = append(b.Segments, s.Record())
	}
}

// Encode writes b to w as msgpack compressed with zstd
func Encode(w io.Writer, b *Bundle) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(b); err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// Decode reads a bundle written by Encode
func Decode(r io.Reader) (*Bundle, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var b Bundle
	if err := msgpack.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("unsupported archive version %d, want %d", b.Version, Version)
	}
	return &b, nil
}

// Write stores b at path. The file is written next to path and renamed into
// place, so readers never see a partial archive.
func Write(path string, b *Bundle) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

// Read loads the archive at path
func Read(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	return Decode(f)
}
