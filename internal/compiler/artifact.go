package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Artifact is a compiled model as returned by the service.
type Artifact struct {
	// Name the model was submitted under.
	Name string

	// Bytes is the wasm binary.
	Bytes []byte

	// Digest is the hex sha256 of Bytes.
	Digest string

	ReceivedAt time.Time
}

func newArtifact(name string, data []byte) *Artifact {
	return &Artifact{
		Name:       name,
		Bytes:      data,
		Digest:     Digest(data),
		ReceivedAt: time.Now(),
	}
}

// Size returns the binary size in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Bytes))
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
