// internal/index/persist.go
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout, little-endian throughout:
//
//	magic   uint32  0x43585642 ("CXVB")
//	version uint32  currently 1
//	dim     uint32
//	count   uint32
//	records count × { idLen uint32, id bytes, dim × float32 }
const (
	fileMagic   uint32 = 0x43585642
	fileVersion uint32 = 1

	maxIDLen = 4096
)

// Save writes the index to path atomically: the data goes to a temp
// file in the same directory which is then renamed over the target, so
// a crash mid-write never leaves a truncated index behind.
func (f *Flat) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := f.writeTo(w); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

func (f *Flat) writeTo(w io.Writer) error {
	header := []uint32{fileMagic, fileVersion, uint32(f.dim), uint32(len(f.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for i, id := range f.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, id); err != nil {
			return err
		}
		for _, x := range f.vectors[i] {
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(x)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads an index previously written by Save. The stored dimension
// becomes the index dimension.
func Load(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	f, err := readFrom(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read index file %s: %w", path, err)
	}
	return f, nil
}

func readFrom(r io.Reader) (*Flat, error) {
	var magic, version, dim, count uint32
	for _, p := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, err
		}
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("bad magic 0x%08x", magic)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}

	f := New(int(dim))
	for i := uint32(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, err
		}
		if idLen == 0 || idLen > maxIDLen {
			return nil, fmt.Errorf("record %d: bad id length %d", i, idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, err
		}

		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, err
			}
			vec[j] = math.Float32frombits(bits)
		}

		if err := f.Add([]string{string(idBytes)}, [][]float32{vec}); err != nil {
			return nil, err
		}
	}
	return f, nil
}
