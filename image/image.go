// Package image stores compiled units as CBOR: a build id, then one entry
// per unit holding its classes and a content hash of them.
package image

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/vm"
)

const (
	Magic   = "KILN"
	Version = 1
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Image is a set of compiled units produced by one build.
type Image struct {
	Magic   string  `cbor:"1,keyasint"`
	Version int     `cbor:"2,keyasint"`
	BuildID []byte  `cbor:"3,keyasint"`
	Units   []*Unit `cbor:"4,keyasint"`
}

// Unit is the stored form of a compiler.Unit.
type Unit struct {
	Facade      string       `cbor:"1,keyasint"`
	Classes     []Class      `cbor:"2,keyasint"`
	Diagnostics []Diagnostic `cbor:"3,keyasint,omitempty"`
	Hash        [32]byte     `cbor:"4,keyasint"`
}

// Diagnostic is a stored compiler.Diagnostic.
type Diagnostic struct {
	Line    int    `cbor:"1,keyasint"`
	Column  int    `cbor:"2,keyasint"`
	Text    string `cbor:"3,keyasint,omitempty"`
	Message string `cbor:"4,keyasint"`
}

// New packs units under a fresh build id.
func New(units ...*compiler.Unit) (*Image, error) {
	id := uuid.New()
	img := &Image{Magic: Magic, Version: Version, BuildID: id[:]}
	for _, u := range units {
		su, err := FromUnit(u)
		if err != nil {
			return nil, err
		}
		img.Units = append(img.Units, su)
	}
	return img, nil
}

// ID returns the build id.
func (img *Image) ID() uuid.UUID {
	id, err := uuid.FromBytes(img.BuildID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Unit returns the unit with the given facade, or nil.
func (img *Image) Unit(facade string) *Unit {
	for _, u := range img.Units {
		if u.Facade == facade {
			return u
		}
	}
	return nil
}

// Classes decodes the classes of every unit.
func (img *Image) Classes() ([]*vm.Class, error) {
	var out []*vm.Class
	for _, u := range img.Units {
		cs, err := u.VMClasses()
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
	}
	return out, nil
}

// FromUnit converts a compiled unit and hashes its content.
func FromUnit(u *compiler.Unit) (*Unit, error) {
	su := &Unit{Facade: u.Facade}
	for _, c := range u.Classes {
		su.Classes = append(su.Classes, fromClass(c))
	}
	for _, d := range u.Diagnostics {
		su.Diagnostics = append(su.Diagnostics, Diagnostic{Line: d.Pos.Line, Column: d.Pos.Column, Text: d.Text, Message: d.Message})
	}
	h, err := su.contentHash()
	if err != nil {
		return nil, err
	}
	su.Hash = h
	return su, nil
}

// contentHash hashes the canonical encoding of the unit without its hash.
func (u *Unit) contentHash() ([32]byte, error) {
	body := *u
	body.Hash = [32]byte{}
	data, err := encMode.Marshal(&body)
	if err != nil {
		return [32]byte{}, fmt.Errorf("image: hash unit %s: %w", u.Facade, err)
	}
	return sha256.Sum256(data), nil
}

// Verify recomputes the content hash.
func (u *Unit) Verify() error {
	h, err := u.contentHash()
	if err != nil {
		return err
	}
	if h != u.Hash {
		return fmt.Errorf("image: unit %s: content hash mismatch: stored %x, computed %x", u.Facade, u.Hash[:8], h[:8])
	}
	return nil
}

// VMClasses decodes the classes of u.
func (u *Unit) VMClasses() ([]*vm.Class, error) {
	out := make([]*vm.Class, 0, len(u.Classes))
	for i := range u.Classes {
		c, err := u.Classes[i].toVM()
		if err != nil {
			return nil, fmt.Errorf("image: unit %s: %w", u.Facade, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Marshal encodes img.
func Marshal(img *Image) ([]byte, error) {
	return encMode.Marshal(img)
}

// MarshalUnit encodes a single unit, as the store keeps them.
func MarshalUnit(u *Unit) ([]byte, error) {
	return encMode.Marshal(u)
}

// Unmarshal decodes and verifies an image.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, fmt.Errorf("image: bad magic %q", img.Magic)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	for _, u := range img.Units {
		if err := u.Verify(); err != nil {
			return nil, err
		}
	}
	return &img, nil
}

// UnmarshalUnit decodes and verifies a single unit.
func UnmarshalUnit(data []byte) (*Unit, error) {
	var u Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("image: unmarshal unit: %w", err)
	}
	if err := u.Verify(); err != nil {
		return nil, err
	}
	return &u, nil
}

// Write stores img at path.
func Write(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return fmt.Errorf("image: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

// Read loads the image at path.
func Read(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: read %s: %w", path, err)
	}
	return Unmarshal(data)
}
