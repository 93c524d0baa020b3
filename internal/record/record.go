package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Delimiter separates the two slot fields of a record line.
const Delimiter = ";"

// Slots is the number of fields held by a record.
const Slots = 2

// NoPID marks a slot whose process is unknown.
const NoPID = -1

var (
	// ErrNotFound is returned when the record file does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrFormat is returned when the record line cannot be parsed.
	ErrFormat = errors.New("malformed record")
)

// Pair holds the two process identifiers of a record, indexed by slot.
type Pair [Slots]int

// String renders the pair in its on-disk form.
func (p Pair) String() string {
	return strconv.Itoa(p[0]) + Delimiter + strconv.Itoa(p[1])
}

// Parse decodes a record line. Only the first line is considered; fields are
// trimmed so a trailing newline or CRLF written by another tool is tolerated.
func Parse(s string) (Pair, error) {
	line, _, _ := strings.Cut(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	fields := strings.Split(strings.TrimSpace(line), Delimiter)
	if len(fields) < Slots {
		return Pair{NoPID, NoPID}, fmt.Errorf("%w: want %d fields, got %d", ErrFormat, Slots, len(fields))
	}
	var p Pair
	for i := 0; i < Slots; i++ {
		// process identifiers are 32-bit; wider values must not wrap onto a real pid
		v, err := strconv.ParseInt(strings.TrimSpace(fields[i]), 10, 32)
		if err != nil {
			return Pair{NoPID, NoPID}, fmt.Errorf("%w: field %d: %v", ErrFormat, i, err)
		}
		p[i] = int(v)
	}
	return p, nil
}

// Read loads both identifiers from the record at path.
func Read(path string) (Pair, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Pair{NoPID, NoPID}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Pair{NoPID, NoPID}, err
	}
	return Parse(string(b))
}

// ReadPeerID returns the identifier stored at slot.
func ReadPeerID(path string, slot int) (int, error) {
	if !ValidSlot(slot) {
		return NoPID, fmt.Errorf("%w: slot %d out of range", ErrFormat, slot)
	}
	p, err := Read(path)
	if err != nil {
		return NoPID, err
	}
	return p[slot], nil
}

// WriteBoth overwrites the record with ownID at ownSlot and peerID at the
// other slot. A torn write is read back as ErrFormat by the peer, which
// sends it down the restart path.
func WriteBoth(path string, ownSlot, ownID, peerID int) error {
	if !ValidSlot(ownSlot) {
		return fmt.Errorf("%w: slot %d out of range", ErrFormat, ownSlot)
	}
	var p Pair
	p[ownSlot] = ownID
	p[Other(ownSlot)] = peerID
	return Write(path, p)
}

// Write overwrites the record with p.
func Write(path string, p Pair) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create record dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(p.String()), 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ValidSlot reports whether slot addresses a record field.
func ValidSlot(slot int) bool { return slot >= 0 && slot < Slots }

// Other returns the slot paired with slot.
func Other(slot int) int { return 1 - slot }

// Store binds the record operations to a single file path.
type Store struct {
	Path string
}

func NewStore(path string) Store { return Store{Path: path} }

func (s Store) ReadPeerID(slot int) (int, error) { return ReadPeerID(s.Path, slot) }

func (s Store) Read() (Pair, error) { return Read(s.Path) }

func (s Store) WriteBoth(ownSlot, ownID, peerID int) error {
	return WriteBoth(s.Path, ownSlot, ownID, peerID)
}
