package attachment

import (
	"mime"
	"strings"
	"time"

	"github.com/kazz187/worktrack/pkg/cerr"
)

// Attachment is metadata for a file held by the blob store. FilePath is an
// opaque key; retrieval URLs are issued elsewhere.
type Attachment struct {
	ID         string    `yaml:"id" json:"id"`
	TaskID     string    `yaml:"task_id" json:"task_id"`
	UploaderID string    `yaml:"uploader_id" json:"uploader_id"`
	FileName   string    `yaml:"file_name" json:"file_name"`
	FilePath   string    `yaml:"file_path" json:"file_path"`
	FileSize   int64     `yaml:"file_size" json:"file_size"`
	MimeType   string    `yaml:"mime_type" json:"mime_type"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
}

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 50 << 20

// Metadata is what a caller supplies for a new attachment.
type Metadata struct {
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

func (m Metadata) Validate() error {
	e := cerr.Validation("invalid file metadata")
	if strings.TrimSpace(m.FileName) == "" {
		e.AddDetailMessageWithCode("file_name is required", "file_name.required")
	} else if strings.ContainsAny(m.FileName, `/\`) {
		e.AddDetailMessageWithCode("file_name must not contain path separators", "file_name.base")
	}
	if strings.TrimSpace(m.FilePath) == "" {
		e.AddDetailMessageWithCode("file_path is required", "file_path.required")
	}
	if m.FileSize <= 0 {
		e.AddDetailMessageWithCode("file_size must be positive", "file_size.gt")
	} else if m.FileSize > MaxFileSize {
		e.AddDetailMessageWithCode("file_size exceeds 50MiB", "file_size.lte")
	}
	if _, _, err := mime.ParseMediaType(m.MimeType); err != nil {
		e.AddDetailMessageWithCode("mime_type is not a valid media type", "mime_type.format")
	}
	if len(e.Details) > 0 {
		return e
	}
	return nil
}
