package compiler

import (
	"context"
	"sync"
)

// Source compiles Text on first use and serves the result as a module
// source for the wasm loader. Only a successful compile is kept; a failed
// one is retried on the next Bytes call.
type Source struct {
	Client *Client
	Text   string

	mu       sync.Mutex
	artifact *Artifact
}

// NewSource creates a source for text.
func NewSource(client *Client, text string) *Source {
	return &Source{Client: client, Text: text}
}

// Bytes compiles the model if needed and returns the binary.
func (s *Source) Bytes(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifact == nil {
		artifact, err := s.Client.Compile(ctx, s.Text)
		if err != nil {
			return nil, err
		}
		s.artifact = artifact
	}
	return s.artifact.Bytes, nil
}

// Name returns the model name.
func (s *Source) Name() string {
	return s.Client.ModelName()
}

// Size returns the binary size, or 0 before the first Bytes call.
func (s *Source) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifact == nil {
		return 0
	}
	return s.artifact.Size()
}

// Artifact returns the compiled artifact once Bytes succeeded.
func (s *Source) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.artifact
}
