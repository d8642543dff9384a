package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/lu-zhengda/quotemail/internal/atomicfile"
	"github.com/lu-zhengda/quotemail/internal/domain"
)

// FileCredentialStore keeps the credential as JSON at a fixed path. Writes go
// through a temp file and a rename.
type FileCredentialStore struct {
	fs   afero.Fs
	path string
}

func NewFileCredentialStore(fs afero.Fs, path string) *FileCredentialStore {
	return &FileCredentialStore{fs: fs, path: path}
}

func (f *FileCredentialStore) Path() string { return f.path }

func (f *FileCredentialStore) Load() (*domain.Credential, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential cache %s: %w", f.path, err)
	}
	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential cache %s: %w", f.path, err)
	}
	return &cred, nil
}

func (f *FileCredentialStore) Save(cred *domain.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	return atomicfile.WriteFile(f.fs, f.path, 0o600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Delete removes the cache file. A missing file is not an error.
func (f *FileCredentialStore) Delete() error {
	if err := f.fs.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credential cache %s: %w", f.path, err)
	}
	return nil
}

var _ CredentialStore = (*FileCredentialStore)(nil)
