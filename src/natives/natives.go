// Package natives extracts platform-native archives referenced by a
// resolved profile into a per-instance natives directory, honoring
// each library's exclude prefixes, per §4.3 of the specification; no
// include filter is applied, so every non-excluded entry is written. Treated as
// its own independently testable operation rather than a launch-time
// side effect inlined into the launch path.
package natives

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
)

// Extractor extracts ResolvedLibrary{Role: RoleNative} archives.
type Extractor struct {
	emitter *events.EventEmitter
	log     *zap.SugaredLogger
}

// New builds an Extractor.
func New(emitter *events.EventEmitter, log *zap.SugaredLogger) *Extractor {
	return &Extractor{emitter: emitter, log: log}
}

// Extract clears nativesDir and extracts every native library in libs
// into it. The natives directory is cleared at the start of every
// launch since natives may differ per session if the profile changed.
func (e *Extractor) Extract(libs []manifest.ResolvedLibrary, nativesDir string) error {
	if err := os.RemoveAll(nativesDir); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "clear natives directory", err)
	}
	if err := config.EnsureDir(nativesDir); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "create natives directory", err)
	}

	count := 0
	for _, lib := range libs {
		if lib.Role != manifest.RoleNative {
			continue
		}
		n, err := e.extractArchive(lib.LocalPath, nativesDir, lib.ExtractExclude)
		if err != nil {
			return fmt.Errorf("extract natives from %s: %w", lib.Coordinate, err)
		}
		count += n
	}

	e.log.Infow("natives extracted", "count", count, "dir", nativesDir)
	return nil
}

// extractArchive opens a native jar and writes every entry not under
// META-INF/ or an exclude prefix into destDir, flattened.
func (e *Extractor) extractArchive(jarPath, destDir string, exclude []string) (int, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	extracted := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		if excluded(f.Name, exclude) {
			continue
		}

		if err := e.extractEntry(f, destDir); err != nil {
			e.log.Warnw("failed to extract native entry", "jar", jarPath, "entry", f.Name, "err", err)
			continue
		}
		extracted++
	}
	return extracted, nil
}

func excluded(name string, exclude []string) bool {
	for _, prefix := range exclude {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// extractEntry writes a single zip entry atomically: to a temp file in
// destDir, then renamed into place.
func (e *Extractor) extractEntry(f *zip.File, destDir string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	destPath := filepath.Join(destDir, filepath.Base(f.Name))
	tmp, err := os.CreateTemp(destDir, ".native-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destPath)
}
