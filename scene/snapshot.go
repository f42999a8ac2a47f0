// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/rigforge/rigbridge/lib/codec"
)

// Snapshot file layout: an 8-byte magic, a 32-byte BLAKE3 checksum of
// the body, a 4-byte big-endian body length, then the body: a
// zstd-compressed, deterministically CBOR-encoded snapshot document.
// The checksum makes a torn or bit-rotted file a clean load failure
// instead of a silently wrong mirror.
var snapshotMagic = [8]byte{'R', 'I', 'G', 'S', 'N', 'A', 'P', '1'}

const (
	checksumLength   = 32
	lengthFieldBytes = 4

	// maxSnapshotBody bounds the decompressed body. A mirror of even
	// a very dense MetaHuman face rig is well under a megabyte.
	maxSnapshotBody = 64 << 20
)

// snapshotDocument is the persisted form of the tracker mirror.
type snapshotDocument struct {
	SavedAt time.Time `cbor:"saved_at"`
	Targets []Target  `cbor:"targets"`
}

// SaveSnapshot persists the tracker mirror to path. The write is
// atomic: temporary file in the same directory, fsync, rename.
func (tr *Tracker) SaveSnapshot(path string) error {
	document := snapshotDocument{
		SavedAt: time.Now().UTC(),
		Targets: tr.List(""),
	}
	encoded, err := codec.Marshal(document)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("initializing zstd: %w", err)
	}
	body := encoder.EncodeAll(encoded, nil)
	encoder.Close()

	checksum := blake3.Sum256(body)

	var file bytes.Buffer
	file.Write(snapshotMagic[:])
	file.Write(checksum[:])
	var lengthField [lengthFieldBytes]byte
	binary.BigEndian.PutUint32(lengthField[:], uint32(len(body)))
	file.Write(lengthField[:])
	file.Write(body)

	return writeFileAtomic(path, file.Bytes())
}

// LoadSnapshot restores the tracker mirror from path, replacing the
// current contents. A missing file is not an error (the returned
// error wraps os.ErrNotExist); a corrupt file is.
func (tr *Tracker) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	header := len(snapshotMagic) + checksumLength + lengthFieldBytes
	if len(data) < header {
		return fmt.Errorf("snapshot %s: truncated header", path)
	}
	if !bytes.Equal(data[:len(snapshotMagic)], snapshotMagic[:]) {
		return fmt.Errorf("snapshot %s: bad magic", path)
	}
	var checksum [checksumLength]byte
	copy(checksum[:], data[len(snapshotMagic):])
	bodyLength := binary.BigEndian.Uint32(data[len(snapshotMagic)+checksumLength : header])
	body := data[header:]
	if uint32(len(body)) != bodyLength {
		return fmt.Errorf("snapshot %s: body length %d does not match header %d", path, len(body), bodyLength)
	}
	if blake3.Sum256(body) != checksum {
		return fmt.Errorf("snapshot %s: checksum mismatch", path)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotBody))
	if err != nil {
		return fmt.Errorf("initializing zstd: %w", err)
	}
	defer decoder.Close()
	encoded, err := decoder.DecodeAll(body, nil)
	if err != nil {
		return fmt.Errorf("snapshot %s: decompressing: %w", path, err)
	}

	var document snapshotDocument
	if err := codec.Unmarshal(encoded, &document); err != nil {
		return fmt.Errorf("snapshot %s: decoding: %w", path, err)
	}

	tr.StoreAll(document.Targets)
	return nil
}

// writeFileAtomic writes data to path via a temporary file, fsync,
// and rename, then syncs the parent directory so the rename survives
// power loss.
func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary snapshot file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary snapshot file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary snapshot file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
