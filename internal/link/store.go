package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Store persists the enrollment table across gateway restarts.
type Store interface {
	Load() (records []Record, lastID uint8, err error)
	Save(records []Record, lastID uint8) error
}

// FileStore keeps the table as a JSON document on disk. Writes go through a
// temp file + rename so a crash mid-save never truncates the table.
type FileStore struct {
	Path string
}

type tableFile struct {
	Records []Record `json:"records"`
	LastID  uint8    `json:"last_id"`
}

func (fs *FileStore) Load() ([]Record, uint8, error) {
	data, err := os.ReadFile(fs.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("table load: %w", err)
	}
	var tf tableFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, 0, fmt.Errorf("table load: %w", err)
	}
	return tf.Records, tf.LastID, nil
}

func (fs *FileStore) Save(records []Record, lastID uint8) error {
	data, err := json.Marshal(tableFile{Records: records, LastID: lastID})
	if err != nil {
		return fmt.Errorf("table save: %w", err)
	}
	tmp := fs.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("table save: %w", err)
	}
	if err := os.Rename(tmp, fs.Path); err != nil {
		return fmt.Errorf("table save: %w", err)
	}
	return nil
}
