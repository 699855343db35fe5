package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vrsandeep/setlist-go/internal/util"
)

// PrepareTempDir validates dir and creates it when missing.
func PrepareTempDir(dir string) error {
	if err := util.ValidateFolderPath(dir, "."); err != nil {
		return fmt.Errorf("invalid temp dir: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeStale deletes regular files and run directories in dir whose
// modification time is older than maxAge. It returns how many entries were
// removed.
func PurgeStale(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() && !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Warn("could not remove stale temp file")
			continue
		}
		removed++
	}
	return removed, nil
}
