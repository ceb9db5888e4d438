package checkpoints

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestWriteFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	env := &Envelope{Kind: KindState, Payload: []byte(`{}`)}

	if err := Write(&buf, env); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if env.Version != Version {
		t.Errorf("expected version %q, got %q", Version, env.Version)
	}
	if env.RunID == "" {
		t.Error("expected a generated run id")
	}
	if env.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}
}

func TestWriteRejectsUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, &Envelope{Kind: "weights"})
	if err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestReadVerifiesKind(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &Envelope{Kind: KindSystem, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Read(bytes.NewReader(buf.Bytes()), KindState); err == nil {
		t.Error("expected a kind mismatch error")
	}

	env, err := Read(bytes.NewReader(buf.Bytes()), KindSystem)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if env.Kind != KindSystem {
		t.Errorf("expected kind %q, got %q", KindSystem, env.Kind)
	}
}

func TestInspectAcceptsAnyKind(t *testing.T) {
	for _, kind := range []Kind{KindSystem, KindState} {
		var buf bytes.Buffer
		if err := Write(&buf, &Envelope{Kind: kind, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		env, err := Inspect(&buf)
		if err != nil {
			t.Fatalf("inspect failed for kind %q: %v", kind, err)
		}
		if env.Kind != kind {
			t.Errorf("expected kind %q, got %q", kind, env.Kind)
		}
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect(bytes.NewReader([]byte("not json"))); err == nil {
		t.Error("expected an error for a malformed envelope")
	}
	if _, err := Inspect(bytes.NewReader([]byte(`{"kind":"weights"}`))); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	env := &Envelope{
		Kind:        KindState,
		Description: "after epoch 3",
		Payload:     []byte(`{"weight":[1,2]}`),
	}

	if err := WriteFile(path, env); err != nil {
		t.Fatalf("write file failed: %v", err)
	}

	restored, err := ReadFile(path, KindState)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	if restored.Description != "after epoch 3" {
		t.Errorf("unexpected description %q", restored.Description)
	}
	if !bytes.Equal(restored.Payload, env.Payload) {
		t.Errorf("payload mismatch: %s", restored.Payload)
	}
	if restored.RunID != env.RunID {
		t.Errorf("run id mismatch: %q vs %q", restored.RunID, env.RunID)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.ckpt"), KindState); err == nil {
		t.Error("expected an error for a missing file")
	}
}
