package attachment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/christian-oudard/signal-cli/internal/protocol"
)

func TestPrepareUploadsEachPath(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
	}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("content of "+p), 0600); err != nil {
			t.Fatal(err)
		}
	}

	streamer := protocol.NewMemoryAttachmentStreamer()
	pointers, err := Prepare(context.Background(), streamer, paths)
	if err != nil {
		t.Fatal(err)
	}
	if len(pointers) != 2 {
		t.Fatalf("got %d pointers, want 2", len(pointers))
	}
	for _, ptr := range pointers {
		if ptr.ID == "" || ptr.Size == 0 {
			t.Errorf("incomplete pointer: %+v", ptr)
		}
	}
}

func TestPrepareEmpty(t *testing.T) {
	pointers, err := Prepare(context.Background(), protocol.NewMemoryAttachmentStreamer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if pointers != nil {
		t.Errorf("pointers = %+v, want nil", pointers)
	}
}

func TestPrepareMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.png")
	_, err := Prepare(context.Background(), protocol.NewMemoryAttachmentStreamer(), []string{missing})

	var invalid *AttachmentInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want AttachmentInvalidError", err)
	}
	if invalid.Path != missing {
		t.Errorf("path = %q, want %q", invalid.Path, missing)
	}
}
