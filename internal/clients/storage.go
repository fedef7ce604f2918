package clients

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrFileNotFound = errors.New("file not found")

// StorageClient keeps generated files (exports, invoices) in a local
// directory served under PublicPrefix.
type StorageClient struct {
	BaseDir      string
	PublicPrefix string
	BaseURL      string // optional scheme+host used to build absolute URLs
}

func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage dir %q: %w", baseDir, err)
	}
	return &StorageClient{
		BaseDir:      baseDir,
		PublicPrefix: "/" + strings.Trim(publicPrefix, "/"),
		BaseURL:      strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save writes data under a random prefix plus the base of fileName and
// returns the stored name.
func (s *StorageClient) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fileName = filepath.Base(fileName)

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("generate file name: %w", err)
	}
	final := hex.EncodeToString(randBytes) + "_" + fileName

	path := filepath.Join(s.BaseDir, final)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize file: %w", err)
	}
	return final, nil
}

// Put saves the file and returns its public URL. Content type is decided by
// the file server from the extension.
func (s *StorageClient) Put(ctx context.Context, fileName, _ string, data []byte) (string, error) {
	saved, err := s.Save(ctx, fileName, data)
	if err != nil {
		return "", err
	}
	return s.GetURL(saved), nil
}

func (s *StorageClient) GetURL(fileName string) string {
	return s.BaseURL + s.PublicPrefix + "/" + fileName
}

// Resolve maps a stored name back to its path, refusing anything that
// escapes BaseDir. The second result is the original file name.
func (s *StorageClient) Resolve(stored string) (string, string, error) {
	if stored == "" || stored != filepath.Base(stored) || strings.HasPrefix(stored, ".") {
		return "", "", ErrFileNotFound
	}
	path := filepath.Join(s.BaseDir, stored)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", "", ErrFileNotFound
		}
		return "", "", err
	}
	orig := stored
	if idx := strings.IndexByte(stored, '_'); idx >= 0 {
		orig = stored[idx+1:]
	}
	return path, orig, nil
}

// CleanupOlderThan removes files older than d from BaseDir. Subdirectories
// are left alone.
func (s *StorageClient) CleanupOlderThan(d time.Duration) error {
	now := time.Now()
	return filepath.WalkDir(s.BaseDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			if path != s.BaseDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) > d {
			_ = os.Remove(path)
		}
		return nil
	})
}
