package attachment

import (
	"context"
	"fmt"

	"github.com/christian-oudard/signal-cli/internal/protocol"
)

// AttachmentInvalidError is returned when a local attachment cannot be read
// or uploaded. It aborts only the message carrying that attachment.
type AttachmentInvalidError struct {
	Path  string
	Cause error
}

func (e *AttachmentInvalidError) Error() string {
	return fmt.Sprintf("invalid attachment %q: %v", e.Path, e.Cause)
}

func (e *AttachmentInvalidError) Unwrap() error { return e.Cause }

// Prepare reads each local attachment, negotiates an upload location and
// uploads it, returning the pointers to embed in the outgoing message. The
// first failing attachment aborts preparation with AttachmentInvalidError.
func Prepare(ctx context.Context, streamer protocol.AttachmentStreamer, paths []string) ([]protocol.AttachmentPointer, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	pointers := make([]protocol.AttachmentPointer, 0, len(paths))
	for _, path := range paths {
		ptr, err := prepareOne(ctx, streamer, path)
		if err != nil {
			return nil, &AttachmentInvalidError{Path: path, Cause: err}
		}
		pointers = append(pointers, ptr)
	}
	return pointers, nil
}

func prepareOne(ctx context.Context, streamer protocol.AttachmentStreamer, path string) (protocol.AttachmentPointer, error) {
	stream, contentType, size, err := streamer.OpenStream(path)
	if err != nil {
		return protocol.AttachmentPointer{}, fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	spec, err := streamer.NegotiateUploadSpec(ctx)
	if err != nil {
		return protocol.AttachmentPointer{}, fmt.Errorf("negotiate upload: %w", err)
	}
	ptr, err := streamer.Upload(ctx, spec, stream, contentType, size)
	if err != nil {
		return protocol.AttachmentPointer{}, fmt.Errorf("upload: %w", err)
	}
	return *ptr, nil
}
