package catalog

import (
	"time"

	"github.com/cuemby/fdfs/pkg/types"
)

// FileRecord describes one upload made through this client
type FileRecord struct {
	FileID     string         `json:"file_id"`
	Group      string         `json:"group"`
	Name       string         `json:"name"`
	Size       int64          `json:"size"`
	Ext        string         `json:"ext"`
	Source     string         `json:"source"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// Store defines the interface for the local upload catalog
type Store interface {
	Put(rec *FileRecord) error
	Get(fileID string) (*FileRecord, error)
	List() ([]*FileRecord, error)
	ListByGroup(group string) ([]*FileRecord, error)
	Delete(fileID string) error

	Close() error
}
