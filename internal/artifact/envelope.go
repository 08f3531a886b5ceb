package artifact

import (
	"bytes"
	"fmt"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// Format identifies quakerun artifact files.
const Format = "quakerun-artifact"

// Kind names the type of value an artifact holds.
type Kind string

const (
	KindTribe          Kind = "tribe"
	KindParty          Kind = "party"
	KindSelfDetections Kind = "self_detections"
	KindCatalog        Kind = "catalog"
)

// envelope is the on-disk layout.
type envelope struct {
	Format   string    `cbor:"format"`
	Version  int       `cbor:"version"`
	Kind     Kind      `cbor:"kind"`
	Created  time.Time `cbor:"created"`
	Checksum []byte    `cbor:"checksum"`
	Size     int       `cbor:"size"`
	Payload  []byte    `cbor:"payload"`
}

// Header describes a decoded artifact.
type Header struct {
	Kind     Kind
	Version  int
	Created  time.Time
	Checksum Checksum
}

// Encode wraps v in an envelope of the given kind.
func Encode(kind Kind, created time.Time, v any) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	sum := checksum(payload)

	env := envelope{
		Format:   Format,
		Version:  ir.ArtifactVersion,
		Kind:     kind,
		Created:  created.UTC(),
		Checksum: sum[:],
		Size:     len(payload),
		Payload:  compress(payload),
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return data, nil
}

// Decode verifies an envelope of the given kind and decodes its payload
// into v.
func Decode(data []byte, kind Kind, v any) (Header, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Header{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Format != Format {
		return Header{}, fmt.Errorf("not an artifact file: format %q", env.Format)
	}
	if env.Version != ir.ArtifactVersion {
		return Header{}, fmt.Errorf("unsupported artifact version %d (want %d)", env.Version, ir.ArtifactVersion)
	}
	if env.Kind != kind {
		return Header{}, fmt.Errorf("artifact holds %s, want %s", env.Kind, kind)
	}

	payload, err := decompress(env.Payload, env.Size)
	if err != nil {
		return Header{}, err
	}
	sum := checksum(payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return Header{}, fmt.Errorf("%s artifact checksum mismatch", kind)
	}

	if err := decMode.Unmarshal(payload, v); err != nil {
		return Header{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return Header{Kind: env.Kind, Version: env.Version, Created: env.Created, Checksum: sum}, nil
}
