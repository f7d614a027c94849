package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Blobs persists fetched recording audio.
type Blobs interface {
	// SaveRecording writes audio under a path derived from the call's
	// internal id plus a time-based disambiguator, and returns that path.
	SaveRecording(callID string, audio []byte) (string, error)
}

// Disk stores recordings under a root directory.
type Disk struct {
	root  string
	clock func() time.Time
}

func NewDisk(root string) *Disk {
	return &Disk{root: root, clock: time.Now}
}

func (d *Disk) SaveRecording(callID string, audio []byte) (string, error) {
	// The unix-nano prefix disambiguates multiple recordings per call.
	rel := filepath.Join(
		fmt.Sprintf("call_%s", callID),
		fmt.Sprintf("%d_recording.mp3", d.clock().UnixNano()),
	)
	abs := filepath.Join(d.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(abs, audio, 0o644); err != nil {
		return "", fmt.Errorf("storage: write: %w", err)
	}
	return rel, nil
}

var _ Blobs = (*Disk)(nil)
