// Package shader loads shader stages and reflects what the pipeline compiler
// needs from them: the stage, its vertex inputs and its descriptor bindings.
package shader

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

// Scheme is the prefix of paths resolved against the loader root.
const Scheme = "shaders://"

type Kind uint8

const (
	KindNone Kind = iota
	KindPath
	KindSPIRV
	KindWGSL
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindSPIRV:
		return "spirv"
	case KindWGSL:
		return "wgsl"
	}
	return "none"
}

var (
	ErrInvalidSPIRV     = errors.New("invalid SPIR-V")
	ErrInvalidExtension = errors.New("invalid shader extension")
	ErrNoSource         = errors.New("no shader source")
)

// Source identifies where a shader stage comes from: a file, embedded
// SPIR-V words or inline WGSL text.
type Source struct {
	kind   Kind
	path   string
	words  []uint32
	text   string
	digest [sha256.Size]byte
}

// Key is the comparable identity of a Source. Embedded sources compare by
// the digest of their contents.
type Key struct {
	Kind   Kind
	Path   string
	Digest [sha256.Size]byte
}

func FromPath(path string) Source {
	return Source{kind: KindPath, path: path}
}

func FromSPIRV(words []uint32) Source {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return Source{kind: KindSPIRV, words: words, digest: sha256.Sum256(buf)}
}

// FromSPIRVBytes validates and converts little-endian SPIR-V bytes.
func FromSPIRVBytes(b []byte) (Source, error) {
	words, err := BytesToWords(b)
	if err != nil {
		return Source{}, err
	}
	return FromSPIRV(words), nil
}

func FromWGSL(text string) Source {
	return Source{kind: KindWGSL, text: text, digest: sha256.Sum256([]byte(text))}
}

// BytesToWords checks the length and magic number of a SPIR-V blob.
func BytesToWords(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalidSPIRV, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != SPIRVMagic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidSPIRV, words[0])
	}
	return words, nil
}

func (s Source) Kind() Kind {
	return s.kind
}

func (s Source) Path() string {
	return s.path
}

func (s Source) IsNone() bool {
	return s.kind == KindNone
}

func (s Source) Key() Key {
	return Key{Kind: s.kind, Path: s.path, Digest: s.digest}
}

func (s Source) String() string {
	switch s.kind {
	case KindPath:
		return s.path
	case KindSPIRV:
		return fmt.Sprintf("spirv(%d words, %x)", len(s.words), s.digest[:4])
	case KindWGSL:
		return fmt.Sprintf("wgsl(%x)", s.digest[:4])
	}
	return "none"
}
