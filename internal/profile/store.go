// Package profile persists browser user-data directories as named tar.gz
// archives so cookies and storage survive across browser launches.
package profile

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// ErrNotFound means no archive exists for the profile.
var ErrNotFound = errors.New("profile not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Chrome's per-process lock files must not be carried to another launch.
var skipped = map[string]bool{
	"SingletonLock":      true,
	"SingletonSocket":    true,
	"SingletonCookie":    true,
	"DevToolsActivePort": true,
}

const archiveExt = ".tar.gz"

// Store keeps profile archives under a directory.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore creates root if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the archive directory.
func (s *Store) Root() string { return s.root }

func (s *Store) archivePath(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	return filepath.Join(s.root, name+archiveExt), nil
}

// Get describes a saved profile.
func (s *Store) Get(name string) (models.Profile, error) {
	path, err := s.archivePath(name)
	if err != nil {
		return models.Profile{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{Name: name, Size: info.Size(), UpdatedAt: info.ModTime(), DataPath: path}, nil
}

// List returns saved profiles sorted by name.
func (s *Store) List() ([]models.Profile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var profiles []models.Profile
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), archiveExt)
		if !ok || e.IsDir() {
			continue
		}
		p, err := s.Get(name)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Save archives userDataDir as name, replacing any previous archive.
func (s *Store) Save(name, userDataDir string) (models.Profile, error) {
	path, err := s.archivePath(name)
	if err != nil {
		return models.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.root, name+"-*.partial")
	if err != nil {
		return models.Profile{}, err
	}
	defer os.Remove(tmp.Name())

	if err := compressDirectory(userDataDir, tmp); err != nil {
		tmp.Close()
		return models.Profile{}, fmt.Errorf("failed to compress profile %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return models.Profile{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return models.Profile{}, err
	}
	return s.Get(name)
}

// Restore extracts the archive for name into dir. It reports false, without
// error, when the profile has never been saved.
func (s *Store) Restore(name, dir string) (bool, error) {
	path, err := s.archivePath(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := extractDirectory(path, dir); err != nil {
		return false, fmt.Errorf("failed to extract profile %s: %w", name, err)
	}
	return true, nil
}

// Delete removes a saved profile.
func (s *Store) Delete(name string) error {
	path, err := s.archivePath(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// compressDirectory writes a tar.gz of source's regular files and directories.
func compressDirectory(source string, w io.Writer) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if skipped[info.Name()] || !(info.Mode().IsRegular() || info.IsDir()) {
			return nil
		}
		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tarWriter, file)
		return err
	})
	if err != nil {
		return err
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

// extractDirectory unpacks a tar.gz into target, refusing entries that would
// land outside it.
func extractDirectory(source, target string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(target, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(targetPath, filepath.Clean(target)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes profile directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			if err := outFile.Close(); err != nil {
				return err
			}
		}
	}
}
