package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// archiveFile moves path into dir. An existing file of the same name is kept
// and the moved file gets a timestamp suffix.
func archiveFile(path, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "ingest: create archive dir %s", dir)
	}

	base := filepath.Base(path)
	dest := filepath.Join(dir, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(dir, stem+"_"+now.Format("20060102_150405")+ext)
	}

	if err := os.Rename(path, dest); err != nil {
		return "", eris.Wrapf(err, "ingest: move %s to %s", path, dest)
	}
	return dest, nil
}
