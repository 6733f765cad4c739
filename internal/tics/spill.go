package tics

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func (s *Store[T]) chunkPath(idx int) string {
	return filepath.Join(s.savePath, fmt.Sprintf("%d", idx))
}

// spillChunk writes c's data to disk and releases it, unless a spill for
// this chunk id already exists on disk (a chunk's file is written at most
// once) in which case the in-memory copy is simply dropped.
func (s *Store[T]) spillChunk(idx int, c *chunk[T]) error {
	path := s.chunkPath(idx)

	if _, err := os.Stat(path); err == nil {
		c.data = nil
		c.loaded = false
		return nil
	}

	if err := writeChunkFile(path, c.data, s.codec); err != nil {
		return err
	}

	c.data = nil
	c.loaded = false
	return nil
}

func writeChunkFile[T any](path string, data []TimeData[T], codec Codec[T]) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tics: failed to create chunk file %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	if err := encodeChunk(w, data, codec); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("tics: failed to serialize chunk: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("tics: failed to flush chunk file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close() // make sure it's closed, otherwise we can't remove it
		if rmErr := os.Remove(path); rmErr != nil {
			return fmt.Errorf("tics: failed to sync chunk file (%w) and then failed to remove it (%v)", err, rmErr)
		}
		return fmt.Errorf("tics: failed to fsync chunk file: %w", err)
	}

	return f.Close()
}

// encodeChunk writes a length-prefixed sequence of (time, codec.Encode(data))
// records: a uint64 record count, then per record a float64 time, a uint32
// payload length and the payload itself.
func encodeChunk[T any](w io.Writer, data []TimeData[T], codec Codec[T]) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}

	for _, td := range data {
		payload, err := codec.Encode(td.Data)
		if err != nil {
			return fmt.Errorf("encoding record at time %v: %w", td.Time, err)
		}
		if err := binary.Write(w, binary.LittleEndian, td.Time); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

func decodeChunk[T any](r io.Reader, codec Codec[T]) ([]TimeData[T], error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	out := make([]TimeData[T], 0, count)
	for i := uint64(0); i < count; i++ {
		var t float64
		var plen uint32
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &plen); err != nil {
			return nil, err
		}
		payload := make([]byte, plen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		data, err := codec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
		out = append(out, TimeData[T]{Time: t, Data: data})
	}

	return out, nil
}

// loadChunkFile reads a previously spilled chunk back into memory.
func loadChunkFile[T any](path string, codec Codec[T]) ([]TimeData[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tics: failed to open chunk file %s: %w", path, err)
	}
	defer f.Close()

	data, err := decodeChunk(bufio.NewReader(f), codec)
	if err != nil {
		return nil, fmt.Errorf("tics: failed to deserialize chunk file %s: %w", path, err)
	}
	return data, nil
}
