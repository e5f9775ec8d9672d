package ingestion

import (
	"time"

	"github.com/your-org/mediadrop/internal/intake"
)

const (
	EventFilesAccepted = "intake.files.accepted"
	EventFilesRejected = "intake.files.rejected"
)

// AcceptedFile is the metadata of an accepted file. Content never leaves the process.
type AcceptedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
	Source    string `json:"source"`
}

// FilesAcceptedEvent is emitted once per ingestion that accepted at least one file.
type FilesAcceptedEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Files     []AcceptedFile `json:"files"`
	CreatedAt time.Time      `json:"created_at"`
}

// FilesRejectedEvent mirrors a rejection report shown to the user.
type FilesRejectedEvent struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
	Entries   []intake.Rejection `json:"entries"`
	CreatedAt time.Time          `json:"created_at"`
}

func acceptedFiles(files []intake.File) []AcceptedFile {
	out := make([]AcceptedFile, len(files))
	for i, f := range files {
		out[i] = AcceptedFile{
			ID:        f.ID,
			Name:      f.Name,
			MediaType: f.MediaType,
			SizeBytes: f.Size,
			Source:    string(f.Source),
		}
	}
	return out
}
