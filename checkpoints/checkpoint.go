// Package checkpoints persists models and parameter state as envelopes:
// orchestration metadata wrapped around an opaque payload produced by the
// runtime's codec. The payload layout is owned by the runtime; this package
// never inspects it.
package checkpoints

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Version identifies the envelope layout.
const Version = "1.0.0"

// Kind distinguishes what an envelope's payload contains.
type Kind string

const (
	// KindSystem marks a payload holding a whole serialized module plus
	// facade metadata (activation name).
	KindSystem Kind = "system"

	// KindState marks a payload holding a parameter state map only.
	KindState Kind = "state"
)

// Envelope wraps a serialized runtime payload with training metadata.
type Envelope struct {
	Version     string    `json:"version"`
	Kind        Kind      `json:"kind"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Activation  string    `json:"activation,omitempty"`
	Description string    `json:"description,omitempty"`
	Payload     []byte    `json:"payload"`
}

// Write serializes the envelope to w, filling in Version, RunID and
// CreatedAt when unset.
func Write(w io.Writer, env *Envelope) error {
	if env.Kind != KindSystem && env.Kind != KindState {
		return fmt.Errorf("invalid envelope kind %q", env.Kind)
	}
	if env.Version == "" {
		env.Version = Version
	}
	if env.RunID == "" {
		env.RunID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %v", err)
	}
	return nil
}

// Read deserializes an envelope from r and verifies it holds the expected
// kind of payload.
func Read(r io.Reader, kind Kind) (*Envelope, error) {
	var env Envelope
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %v", err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("envelope kind mismatch: expected %q, got %q", kind, env.Kind)
	}
	return &env, nil
}

// Inspect deserializes an envelope from r without checking its kind. Use
// it for tooling that reports on envelopes of any kind.
func Inspect(r io.Reader) (*Envelope, error) {
	var env Envelope
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %v", err)
	}
	if env.Kind != KindSystem && env.Kind != KindState {
		return nil, fmt.Errorf("invalid envelope kind %q", env.Kind)
	}
	return &env, nil
}

// WriteFile writes an envelope to a named file.
func WriteFile(path string, env *Envelope) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	if err := Write(file, env); err != nil {
		return err
	}
	return file.Sync()
}

// ReadFile reads an envelope from a named file.
func ReadFile(path string, kind Kind) (*Envelope, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	return Read(file, kind)
}
