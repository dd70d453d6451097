// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package kvstore

import (
	"encoding/binary"

	"github.com/intuitivelabs/embedkit/internal/xlog"
	"github.com/intuitivelabs/embedkit/support"
)

var log = xlog.New("kvstore")

// lineAlignBytes is the flash write-line granularity: every meta entry
// and every value's start offset is aligned to this many bytes.
const lineAlignBytes = 16

// metaEntrySize is two 32-bit hashes plus a 32-bit data offset and a
// 32-bit length, exactly lineAlignBytes with no padding needed at the
// default alignment.
const metaEntrySize = 16

type metaEntry struct {
	hashMurmur uint32
	hashDBJ2   uint32
	offset     uint32
	length     uint32
}

func (e *metaEntry) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], e.hashMurmur)
	binary.LittleEndian.PutUint32(buf[4:8], e.hashDBJ2)
	binary.LittleEndian.PutUint32(buf[8:12], e.offset)
	binary.LittleEndian.PutUint32(buf[12:16], e.length)
}

func unmarshalMetaEntry(buf []byte) metaEntry {
	return metaEntry{
		hashMurmur: binary.LittleEndian.Uint32(buf[0:4]),
		hashDBJ2:   binary.LittleEndian.Uint32(buf[4:8]),
		offset:     binary.LittleEndian.Uint32(buf[8:12]),
		length:     binary.LittleEndian.Uint32(buf[12:16]),
	}
}

func (e *metaEntry) isFree() bool {
	return e.hashMurmur == 0xffffffff && e.hashDBJ2 == 0xffffffff
}

type meta struct {
	entry  metaEntry
	offset uint32 // absolute flash offset of this meta entry itself
}

// subsector describes one region (meta or data) within a partition.
type subsector struct {
	offset uint32
	size   uint32
}

// storage is one flash-backed partition split into a meta region and a
// data region.
type storage struct {
	flash Flash
	meta  subsector
	data  subsector

	offset uint32
	size   uint32
}

func newStorage(f Flash) storage {
	if f == nil {
		return storage{}
	}
	size := f.Size()
	metaSize := size >> 4 // meta takes 1/16 of the given space
	return storage{
		flash: f,
		size:  size,
		meta:  subsector{offset: 0, size: metaSize},
		data:  subsector{offset: 0, size: size - metaSize},
	}
}

func alignUp(v, n uint32) uint32 {
	return (v + n - 1) &^ (n - 1)
}

// Store is a single key/value namespace backed by a primary flash
// partition and an optional scratch partition used for reclaim.
type Store struct {
	storage storage
	scratch storage
}

// New creates a Store over flash, optionally using scratch for reclaim.
func New(flash Flash, scratch Flash) *Store {
	return &Store{
		storage: newStorage(flash),
		scratch: newStorage(scratch),
	}
}

func readMeta(s *storage, offset uint32) (metaEntry, error) {
	buf := make([]byte, metaEntrySize)
	if err := s.flash.Read(offset, buf); err != nil {
		return metaEntry{}, err
	}
	return unmarshalMetaEntry(buf), nil
}

// findKey scans every meta slot for the newest entry matching key.
// Later slots are newer, so the scan keeps overwriting its result as it
// finds matches.
func findKey(s *storage, key string) (meta, error) {
	hm := support.HashMurmur32(key)
	hd := support.HashDJB2_32(key)

	start := s.offset + s.meta.offset
	end := start + s.meta.size
	var found meta
	count := 0

	for off := start; off < end; off += metaEntrySize {
		e, err := readMeta(s, off)
		if err != nil {
			return meta{}, err
		}
		if e.hashMurmur == hm && e.hashDBJ2 == hd {
			found = meta{entry: e, offset: off}
			count++
		}
	}

	if count > 0 && found.entry.length > 0 {
		return found, nil
	}
	return meta{}, ErrNotFound
}

// findMeta looks for the newest entry with the same hash pair as
// m.entry. Used during reclaim to resolve an entry to its latest
// version, and to check whether a key has already been copied to the
// destination partition.
func findMeta(s *storage, m *meta) (meta, bool, error) {
	start := s.offset + s.meta.offset
	end := start + s.meta.size
	var found meta
	count := 0

	for off := start; off < end; off += metaEntrySize {
		e, err := readMeta(s, off)
		if err != nil {
			return meta{}, false, err
		}
		if e.hashMurmur == m.entry.hashMurmur && e.hashDBJ2 == m.entry.hashDBJ2 {
			found = meta{entry: e, offset: off}
			count++
		}
	}
	return found, count > 0, nil
}

// allocEntry finds a free meta slot and a free data region able to hold
// size bytes: the first all-0xff meta slot, and the aligned end of the
// highest allocated data record.
func allocEntry(s *storage, size uint32) (meta, error) {
	start := s.offset + s.meta.offset
	end := start + s.meta.size

	var result meta
	allocated := false
	var newDataOffset uint32

	for off := start; off < end; off += metaEntrySize {
		e, err := readMeta(s, off)
		if err != nil {
			return meta{}, err
		}
		if e.isFree() {
			if !allocated {
				result.offset = off
				allocated = true
			}
		} else {
			t := alignUp(e.offset+e.length, lineAlignBytes)
			if t > newDataOffset && t < s.data.size {
				newDataOffset = t
			}
		}
	}

	if allocated && newDataOffset+size < s.data.size {
		result.entry.offset = newDataOffset
		result.entry.length = size
		return result, nil
	}
	return meta{}, ErrNoSpace
}

// deleteMeta tombstones m in place: it zeroes both hashes so findKey can
// no longer match it, while leaving its offset/length untouched. Unlike
// isFree's all-ones erased-flash pattern, a zeroed hash pair marks a
// slot as dead without making it eligible for allocEntry reuse.
// Zeroing is the one in-place update NOR flash permits without an
// erase, since writes can only clear bits.
func deleteMeta(s *storage, m *meta) error {
	m.entry.hashMurmur = 0
	m.entry.hashDBJ2 = 0
	return writeMeta(s, m)
}

func writeMeta(s *storage, m *meta) error {
	buf := make([]byte, metaEntrySize)
	m.entry.marshal(buf)
	return s.flash.Write(m.offset, buf)
}

func writeValue(s *storage, value []byte, m *meta) error {
	if value == nil || m.entry.length == 0 {
		return nil
	}
	offset := s.offset + s.meta.offset + s.meta.size + m.entry.offset
	return s.flash.Write(offset, value[:m.entry.length])
}

// movePartition copies the latest version of every key from `from` to
// `to`, compacting away superseded entries along the way.
func movePartition(from, to *storage) error {
	if err := to.flash.Erase(to.offset, to.size); err != nil {
		return err
	}

	start := from.offset + from.meta.offset
	end := start + from.meta.size

	for off := start; off < end; off += metaEntrySize {
		e, err := readMeta(from, off)
		if err != nil {
			return err
		}
		m := meta{entry: e, offset: off}

		canonical, ok, err := findMeta(from, &m)
		if err != nil {
			return err
		}
		if e.isFree() || !ok || canonical.entry.length == 0 ||
			canonical.entry.offset > from.data.size {
			continue
		}
		if _, ok, err := findMeta(to, &canonical); err != nil {
			return err
		} else if ok {
			continue
		}

		newMeta, err := allocEntry(to, canonical.entry.length)
		if err != nil {
			return err
		}
		newMeta.entry.hashMurmur = canonical.entry.hashMurmur
		newMeta.entry.hashDBJ2 = canonical.entry.hashDBJ2

		if err := writeMeta(to, &newMeta); err != nil {
			return err
		}

		buf := make([]byte, lineAlignBytes)
		for i := uint32(0); i < newMeta.entry.length; i += lineAlignBytes {
			n := lineAlignBytes
			if rem := newMeta.entry.length - i; rem < lineAlignBytes {
				n = int(rem)
			}
			of := from.offset + from.meta.offset + from.meta.size + canonical.entry.offset + i
			ot := to.offset + to.meta.offset + to.meta.size + newMeta.entry.offset + i
			if err := from.flash.Read(of, buf[:n]); err != nil {
				return err
			}
			if err := to.flash.Write(ot, buf[:n]); err != nil {
				return err
			}
		}
	}

	return nil
}

// reclaim compacts the primary partition by round-tripping its live
// entries through the scratch partition. It must leave at least one of
// the two partitions valid even if it fails partway through.
func (kv *Store) reclaim() error {
	if kv.scratch.flash == nil {
		return ErrNoScratch
	}
	if err := movePartition(&kv.storage, &kv.scratch); err != nil {
		return err
	}
	if _, err := allocEntry(&kv.scratch, lineAlignBytes); err != nil {
		return ErrNoSpace
	}
	return movePartition(&kv.scratch, &kv.storage)
}

// doWrite allocates and appends a new meta/data pair for key,
// tombstoning whatever entry previously held key (via deleteMeta) once
// the new slot is secured: the old entry is superseded, never reused,
// and never left matchable by findKey.
func (kv *Store) doWrite(key string, value []byte) error {
	size := uint32(len(value))
	newMeta, err := allocEntry(&kv.storage, size)
	if err == ErrNoSpace {
		log.DBG("partition full on %q (%d bytes), reclaiming\n", key, size)
		if rerr := kv.reclaim(); rerr != nil {
			log.ERR("reclaim failed: %v\n", rerr)
			return rerr
		}
		newMeta, err = allocEntry(&kv.storage, size)
	}
	if err != nil {
		return err
	}

	if oldMeta, ferr := findKey(&kv.storage, key); ferr == nil {
		if err := deleteMeta(&kv.storage, &oldMeta); err != nil {
			return err
		}
	}

	newMeta.entry.hashMurmur = support.HashMurmur32(key)
	newMeta.entry.hashDBJ2 = support.HashDJB2_32(key)

	if err := writeMeta(&kv.storage, &newMeta); err != nil {
		return err
	}
	return writeValue(&kv.storage, value, &newMeta)
}

// Write stores value under key, appending a new meta/data pair and
// reclaiming via the scratch partition if the primary partition is
// full.
func (kv *Store) Write(key string, value []byte) error {
	return kv.doWrite(key, value)
}

// Read copies the current value of key into buf, returning the number
// of bytes copied (truncated to len(buf) if the stored value is
// larger).
func (kv *Store) Read(key string, buf []byte) (int, error) {
	m, err := findKey(&kv.storage, key)
	if err != nil {
		return 0, err
	}
	n := int(m.entry.length)
	if n > len(buf) {
		n = len(buf)
	}
	offset := kv.storage.offset + kv.storage.meta.offset + kv.storage.meta.size + m.entry.offset
	if err := kv.storage.flash.Read(offset, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// Erase removes key: the matching meta entry is tombstoned in place via
// deleteMeta (hashes zeroed, offset/length left as-is) rather than
// appending a new entry, so a deleted key leaves behind a dead slot
// with zeroed hashes and a non-zero length.
func (kv *Store) Erase(key string) error {
	m, err := findKey(&kv.storage, key)
	if err != nil {
		return err
	}
	return deleteMeta(&kv.storage, &m)
}
