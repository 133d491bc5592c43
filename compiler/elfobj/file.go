package elfobj

import (
	"debug/elf"
	"encoding/binary"

	"tlog.app/go/errors"
)

type (
	// File is an ELF container as it is written to or read from disk.
	//
	// Sections do not include the null section at index 0,
	// so Sections[i] has ELF index i+1.
	// The section name table is built by the writer.
	File struct {
		Class   elf.Class
		Data    elf.Data
		Type    elf.Type
		Machine elf.Machine
		Entry   uint64

		Progs    []*Prog
		Sections []*Section
	}

	Prog struct {
		Type  elf.ProgType
		Flags elf.ProgFlag

		Off    uint64
		Vaddr  uint64
		Filesz uint64
		Memsz  uint64
		Align  uint64

		// Section is the ELF index of the section backing the segment.
		// The writer takes Off, Vaddr and sizes from it when set.
		Section int
	}

	Section struct {
		Name  string
		Type  elf.SectionType
		Flags elf.SectionFlag

		Addr    uint64
		Off     uint64
		Size    uint64 // declared size of NOBITS sections, len(Data) otherwise
		Link    uint32
		Info    uint32
		Align   uint64
		Entsize uint64

		Data []byte
	}
)

const PageSize = 0x1000

var (
	ErrMalformed  = errors.New("malformed container")
	ErrMisaligned = errors.New("misaligned segment")
)

// Sizes of fixed structures per class.
type sizes struct {
	ehdr, phdr, shdr, sym, rel int
}

var (
	sizes32 = sizes{ehdr: 52, phdr: 32, shdr: 40, sym: 16, rel: 8}
	sizes64 = sizes{ehdr: 64, phdr: 56, shdr: 64, sym: 24, rel: 24}
)

func classSizes(c elf.Class) (sizes, error) {
	switch c {
	case elf.ELFCLASS32:
		return sizes32, nil
	case elf.ELFCLASS64:
		return sizes64, nil
	}

	return sizes{}, errors.New("bad class: %v", c)
}

// endian reads and appends fixed-width fields.
type endian interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func byteOrder(d elf.Data) (endian, error) {
	switch d {
	case elf.ELFDATA2LSB, elf.ELFDATANONE:
		return binary.LittleEndian, nil
	case elf.ELFDATA2MSB:
		return binary.BigEndian, nil
	}

	return nil, errors.New("bad data encoding: %v", d)
}

// Section returns the section and its ELF index by name.
func (f *File) Section(name string) (*Section, int) {
	for i, s := range f.Sections {
		if s.Name == name {
			return s, i + 1
		}
	}

	return nil, 0
}

// SectionAt returns the section by ELF index.
func (f *File) SectionAt(i int) *Section {
	if i <= 0 || i > len(f.Sections) {
		return nil
	}

	return f.Sections[i-1]
}

// FileSize is the number of bytes the section takes in the file.
func (s *Section) FileSize() uint64 {
	if s.Type == elf.SHT_NOBITS {
		return 0
	}

	return uint64(len(s.Data))
}

// MemSize is the section size as declared in its header.
func (s *Section) MemSize() uint64 {
	if s.Type == elf.SHT_NOBITS {
		return s.Size
	}

	return uint64(len(s.Data))
}

// Loadable reports whether the section is mapped into memory.
func (s *Section) Loadable() bool {
	return s.Flags&elf.SHF_ALLOC != 0
}

// strtab is a string table under construction.
type strtab struct {
	b   []byte
	idx map[string]int
}

func newStrtab() *strtab {
	return &strtab{b: []byte{0}, idx: map[string]int{"": 0}}
}

func (t *strtab) add(s string) int {
	if i, ok := t.idx[s]; ok {
		return i
	}

	i := len(t.b)
	t.b = append(t.b, s...)
	t.b = append(t.b, 0)
	t.idx[s] = i

	return i
}

// cstring returns the zero terminated string at off.
func cstring(b []byte, off uint32) (string, bool) {
	if uint64(off) >= uint64(len(b)) {
		return "", false
	}

	for i := int(off); i < len(b); i++ {
		if b[i] == 0 {
			return string(b[off:i]), true
		}
	}

	return "", false
}

func roundUp(x, a uint64) uint64 {
	return (x + a - 1) / a * a
}
