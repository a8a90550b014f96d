// Package arena lays out the persistent memory-mapped region PrisKV carves
// its key slots and value blocks from: a fixed header, a key-slot region and
// a value-block region, all inside one MAP_SHARED mapping so the layout
// survives process restarts on tmpfs/hugetlbfs.
//
// Concurrency
// -----------
// Arena itself does not serialize access to the regions it exposes — the
// slab and buddy allocators built on top of KeyRegion()/ValueRegion() own
// that responsibility. Close()/Create()/Load() are expected to run once,
// outside the hot path.
//
// © 2025 PrisKV authors. Apache License 2.0.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Magic identifies a PrisKV arena file. It is the literal byte sequence
// "PRSKV\0\0\0" from the wire-level layout in spec §6.
var Magic = [8]byte{'P', 'R', 'S', 'K', 'V', 0, 0, 0}

const (
	// Version is the on-disk header format version produced by this build.
	Version uint32 = 1

	// HeaderSize is the fixed size, in bytes, of the persisted header.
	HeaderSize = 128

	hugetlbfsMagic = 0x958458f6
	tmpfsMagic     = 0x01021994
)

// Header is the fixed-layout, little-endian arena header persisted at
// offset 0 of the mapped file. All five sizing parameters are immutable for
// the lifetime of the file once Create has written them.
type Header struct {
	Magic           [8]byte
	Version         uint32
	Flags           uint32
	MaxKeyLength    uint16
	MaxKeys         uint32
	ValueBlockSize  uint32
	ValueBlocks     uint64
	KeyRegionOff    uint64
	ValueRegionOff  uint64
	CreatedUnixNano uint64
}

// KeySlotHeaderSize is the fixed portion of a key slot record, excluding the
// MaxKeyLength-sized key bytes that follow it. See internal/kv's
// writeKeySlot for the fields written into it.
const KeySlotHeaderSize = 48

var (
	// ErrExists is returned by Create when the target path already exists.
	ErrExists = errors.New("arena: file already exists")
	// ErrNotHugeTLBOrTmpfs is returned by Create when the target filesystem
	// is not hugetlbfs or tmpfs, per spec §4.1/§9.
	ErrNotHugeTLBOrTmpfs = errors.New("arena: path is not on hugetlbfs or tmpfs")
	// ErrBadMagic is returned by Load when the header magic does not match.
	ErrBadMagic = errors.New("arena: bad header magic")
	// ErrBadVersion is returned by Load when the header version is unknown.
	ErrBadVersion = errors.New("arena: unsupported header version")
	// ErrNotPowerOfTwo is returned by Create when MaxKeys or ValueBlocks is
	// not a power of two.
	ErrNotPowerOfTwo = errors.New("arena: max_keys and value_blocks must be powers of two")
)

// Arena is a handle onto the mapped region: a header plus two byte-slice
// views, the key region and the value region.
type Arena struct {
	Header Header

	file   *os.File
	mapped []byte // entire mapping, nil for anonymous/in-memory arenas
	anon   bool

	keyBase   []byte
	valueBase []byte
}

func isPowerOfTwo(n uint64) bool { return n != 0 && n&(n-1) == 0 }

func sizesFor(maxKeyLength uint16, maxKeys uint32, valueBlockSize uint32, valueBlocks uint64) (keyRegionSize, valueRegionSize uint64) {
	keyRegionSize = uint64(KeySlotHeaderSize+int(maxKeyLength)) * uint64(maxKeys)
	valueRegionSize = uint64(valueBlockSize) * valueBlocks
	return
}

// Create lays out a brand-new arena file at path: it refuses if the file
// already exists, verifies the containing filesystem is hugetlbfs or tmpfs,
// fallocates the full size, mmaps MAP_SHARED, writes the header and zeroes
// the key region.
func Create(path string, maxKeyLength uint16, maxKeys uint32, valueBlockSize uint32, valueBlocks uint64, flags uint32, now int64) (*Arena, error) {
	if !isPowerOfTwo(uint64(maxKeys)) || !isPowerOfTwo(valueBlocks) {
		return nil, ErrNotPowerOfTwo
	}

	if err := checkHugeTLBOrTmpfs(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("arena: create %s: %w", path, err)
	}

	keyRegionSize, valueRegionSize := sizesFor(maxKeyLength, maxKeys, valueBlockSize, valueBlocks)
	total := int64(HeaderSize) + int64(keyRegionSize) + int64(valueRegionSize)

	if err := unix.Fallocate(int(f.Fd()), 0, 0, total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("arena: fallocate: %w", err)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}

	hdr := Header{
		Magic:           Magic,
		Version:         Version,
		Flags:           flags,
		MaxKeyLength:    maxKeyLength,
		MaxKeys:         maxKeys,
		ValueBlockSize:  valueBlockSize,
		ValueBlocks:     valueBlocks,
		KeyRegionOff:    HeaderSize,
		ValueRegionOff:  HeaderSize + keyRegionSize,
		CreatedUnixNano: uint64(now),
	}
	writeHeader(mapped, &hdr)

	a := &Arena{
		Header:    hdr,
		file:      f,
		mapped:    mapped,
		keyBase:   mapped[hdr.KeyRegionOff : hdr.KeyRegionOff+keyRegionSize],
		valueBase: mapped[hdr.ValueRegionOff : hdr.ValueRegionOff+valueRegionSize],
	}
	for i := range a.keyBase {
		a.keyBase[i] = 0
	}
	return a, nil
}

// CreateAnonymous lays out the same header/key-region/value-region shape in
// ordinary process memory, with no backing file and no hugetlbfs/tmpfs
// check. Used by tests and by deployments that accept losing the cache on
// restart in exchange for not needing a huge-page-backed filesystem.
func CreateAnonymous(maxKeyLength uint16, maxKeys uint32, valueBlockSize uint32, valueBlocks uint64, now int64) (*Arena, error) {
	if !isPowerOfTwo(uint64(maxKeys)) || !isPowerOfTwo(valueBlocks) {
		return nil, ErrNotPowerOfTwo
	}

	keyRegionSize, valueRegionSize := sizesFor(maxKeyLength, maxKeys, valueBlockSize, valueBlocks)
	total := HeaderSize + keyRegionSize + valueRegionSize

	buf := make([]byte, total)
	hdr := Header{
		Magic:           Magic,
		Version:         Version,
		MaxKeyLength:    maxKeyLength,
		MaxKeys:         maxKeys,
		ValueBlockSize:  valueBlockSize,
		ValueBlocks:     valueBlocks,
		KeyRegionOff:    HeaderSize,
		ValueRegionOff:  HeaderSize + keyRegionSize,
		CreatedUnixNano: uint64(now),
	}
	writeHeader(buf, &hdr)

	return &Arena{
		Header:    hdr,
		mapped:    buf,
		anon:      true,
		keyBase:   buf[hdr.KeyRegionOff : hdr.KeyRegionOff+keyRegionSize],
		valueBase: buf[hdr.ValueRegionOff : hdr.ValueRegionOff+valueRegionSize],
	}, nil
}

// Load mmaps an existing arena file, verifies the header and returns a
// handle. Whatever pattern was written into the key/value regions before
// Close survives, per spec §8 invariant 8.
func Load(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}

	hdr, err := readHeader(mapped)
	if err != nil {
		unix.Munmap(mapped)
		f.Close()
		return nil, err
	}

	keyRegionSize, valueRegionSize := sizesFor(hdr.MaxKeyLength, hdr.MaxKeys, hdr.ValueBlockSize, hdr.ValueBlocks)

	return &Arena{
		Header:    *hdr,
		file:      f,
		mapped:    mapped,
		keyBase:   mapped[hdr.KeyRegionOff : hdr.KeyRegionOff+keyRegionSize],
		valueBase: mapped[hdr.ValueRegionOff : hdr.ValueRegionOff+valueRegionSize],
	}, nil
}

// Close unmaps the region and closes the backing file, if any.
func (a *Arena) Close() error {
	if a.anon {
		a.mapped = nil
		return nil
	}
	var err error
	if a.mapped != nil {
		err = unix.Munmap(a.mapped)
		a.mapped = nil
	}
	if a.file != nil {
		if cerr := a.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// KeyRegion returns the byte slice backing the key-slot region.
func (a *Arena) KeyRegion() []byte { return a.keyBase }

// ValueRegion returns the byte slice backing the value-block region.
func (a *Arena) ValueRegion() []byte { return a.valueBase }

func writeHeader(buf []byte, hdr *Header) {
	copy(buf[0:8], hdr.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], hdr.Version)
	binary.LittleEndian.PutUint32(buf[12:16], hdr.Flags)
	binary.LittleEndian.PutUint16(buf[16:18], hdr.MaxKeyLength)
	binary.LittleEndian.PutUint32(buf[20:24], hdr.MaxKeys)
	binary.LittleEndian.PutUint32(buf[24:28], hdr.ValueBlockSize)
	binary.LittleEndian.PutUint64(buf[28:36], hdr.ValueBlocks)
	binary.LittleEndian.PutUint64(buf[36:44], hdr.KeyRegionOff)
	binary.LittleEndian.PutUint64(buf[44:52], hdr.ValueRegionOff)
	binary.LittleEndian.PutUint64(buf[52:60], hdr.CreatedUnixNano)
}

func readHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("arena: mapping too small for header")
	}
	var hdr Header
	copy(hdr.Magic[:], buf[0:8])
	if hdr.Magic != Magic {
		return nil, ErrBadMagic
	}
	hdr.Version = binary.LittleEndian.Uint32(buf[8:12])
	if hdr.Version != Version {
		return nil, ErrBadVersion
	}
	hdr.Flags = binary.LittleEndian.Uint32(buf[12:16])
	hdr.MaxKeyLength = binary.LittleEndian.Uint16(buf[16:18])
	hdr.MaxKeys = binary.LittleEndian.Uint32(buf[20:24])
	hdr.ValueBlockSize = binary.LittleEndian.Uint32(buf[24:28])
	hdr.ValueBlocks = binary.LittleEndian.Uint64(buf[28:36])
	hdr.KeyRegionOff = binary.LittleEndian.Uint64(buf[36:44])
	hdr.ValueRegionOff = binary.LittleEndian.Uint64(buf[44:52])
	hdr.CreatedUnixNano = binary.LittleEndian.Uint64(buf[52:60])
	return &hdr, nil
}

func checkHugeTLBOrTmpfs(path string) error {
	dir := path
	// statfs targets the containing directory since the file does not yet
	// exist when Create probes it.
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			dir = dir[:i]
			break
		}
	}
	if dir == "" {
		dir = "."
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("arena: statfs %s: %w", dir, err)
	}

	switch int64(st.Type) {
	case hugetlbfsMagic, tmpfsMagic:
		return nil
	default:
		return ErrNotHugeTLBOrTmpfs
	}
}
