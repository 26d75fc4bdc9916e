// Package downloader turns a resolved profile into a deduplicated set
// of fetch tasks and executes them with bounded concurrency, streaming
// integrity verification, and atomic placement, per §4.2 of the
// specification.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/events"
	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/integrity"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
)

// Role tags what a FetchTask is for, for logging/progress purposes.
type Role string

const (
	RoleLibrary    Role = "library"
	RoleNative     Role = "native"
	RoleClientJar  Role = "client-jar"
	RoleAssetIndex Role = "asset-index"
	RoleAsset      Role = "asset"
	RoleLoggingCfg Role = "logging-config"
)

// FetchTask is one file the executor must ensure exists, verified, at
// Destination.
type FetchTask struct {
	URL          string
	Destination  string
	ExpectedSHA1 string
	ExpectedSize int64
	Role         Role
}

const assetBaseURL = "https://resources.download.minecraft.net/"

// Plan produces the deduplicated list of FetchTasks needed to realize
// profile on disk, per §4.2's Planning step. It fetches the asset index
// (if not already cached) to enumerate individual asset objects.
func Plan(ctx context.Context, http *httpclient.Client, profile *manifest.ResolvedProfile, paths *config.Paths) ([]FetchTask, error) {
	seen := map[string]bool{}
	var tasks []FetchTask

	add := func(t FetchTask) {
		if t.URL == "" || seen[t.Destination] {
			return
		}
		seen[t.Destination] = true
		tasks = append(tasks, t)
	}

	for _, lib := range profile.Libraries {
		role := RoleLibrary
		if lib.Role == manifest.RoleNative {
			role = RoleNative
		}
		if needsFetch(lib.LocalPath, lib.SHA1, lib.Size) {
			add(FetchTask{URL: lib.RemoteURL, Destination: lib.LocalPath, ExpectedSHA1: lib.SHA1, ExpectedSize: lib.Size, Role: role})
		}
	}

	if needsFetch(profile.ClientJar.LocalPath, profile.ClientJar.SHA1, profile.ClientJar.Size) {
		add(FetchTask{URL: profile.ClientJar.RemoteURL, Destination: profile.ClientJar.LocalPath, ExpectedSHA1: profile.ClientJar.SHA1, ExpectedSize: profile.ClientJar.Size, Role: RoleClientJar})
	}

	indexPath := filepath.Join(paths.AssetIndexesDir(), profile.AssetIndex.ID+".json")
	if needsFetch(indexPath, profile.AssetIndex.SHA1, profile.AssetIndex.Size) {
		add(FetchTask{URL: profile.AssetIndex.URL, Destination: indexPath, ExpectedSHA1: profile.AssetIndex.SHA1, ExpectedSize: profile.AssetIndex.Size, Role: RoleAssetIndex})
	}

	objects, err := loadOrFetchAssetIndex(ctx, http, profile.AssetIndex.URL, indexPath)
	if err != nil {
		return nil, err
	}
	objectsDir := paths.AssetObjectsDir()
	for _, obj := range objects {
		sub := obj.Hash[:2]
		dest := filepath.Join(objectsDir, sub, obj.Hash)
		if needsFetch(dest, obj.Hash, obj.Size) {
			add(FetchTask{URL: assetBaseURL + sub + "/" + obj.Hash, Destination: dest, ExpectedSHA1: obj.Hash, ExpectedSize: obj.Size, Role: RoleAsset})
		}
	}

	if profile.LoggingConfig != nil && needsFetch(profile.LoggingConfig.LocalPath, profile.LoggingConfig.SHA1, profile.LoggingConfig.Size) {
		add(FetchTask{URL: profile.LoggingConfig.RemoteURL, Destination: profile.LoggingConfig.LocalPath, ExpectedSHA1: profile.LoggingConfig.SHA1, ExpectedSize: profile.LoggingConfig.Size, Role: RoleLoggingCfg})
	}

	return tasks, nil
}

type assetObject struct {
	Hash string
	Size int64
}

func loadOrFetchAssetIndex(ctx context.Context, http *httpclient.Client, url, cachePath string) ([]assetObject, error) {
	var body []byte
	if data, err := os.ReadFile(cachePath); err == nil {
		body = data
	} else {
		fetched, err := http.GetJSON(ctx, url)
		if err != nil {
			return nil, launchererr.Wrap(launchererr.Network, "fetch asset index", err)
		}
		body = fetched
	}

	var index struct {
		Objects map[string]struct {
			Hash string `json:"hash"`
			Size int64  `json:"size"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(body, &index); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse asset index", err)
	}

	objects := make([]assetObject, 0, len(index.Objects))
	for _, o := range index.Objects {
		objects = append(objects, assetObject{Hash: o.Hash, Size: o.Size})
	}
	return objects, nil
}

// needsFetch reports whether dest is absent or fails verification
// against the known hash/size (§4.2 step 1).
func needsFetch(dest, sha1 string, size int64) bool {
	if dest == "" {
		return false
	}
	if sha1 == "" {
		_, err := os.Stat(dest)
		return err != nil
	}
	return integrity.VerifyFile(dest, integrity.SHA1, sha1, size) != nil
}

// Progress is the download-progress event payload (§4.2 Progress,
// §6 Events).
type Progress struct {
	TotalTasks     int
	Completed      int
	BytesTotalKnown int64
	BytesDone      int64
}

// Executor runs FetchTasks with bounded concurrency and emits progress.
type Executor struct {
	http    *httpclient.Client
	emitter *events.EventEmitter
	log     *zap.SugaredLogger
	permits int64
}

// NewExecutor builds an Executor with the given permit count (default
// config.DefaultDownloadPermits when permits <= 0).
func NewExecutor(http *httpclient.Client, emitter *events.EventEmitter, log *zap.SugaredLogger, permits int64) *Executor {
	if permits <= 0 {
		permits = config.DefaultDownloadPermits
	}
	return &Executor{http: http, emitter: emitter, log: log, permits: permits}
}

// Run executes every task, returning the first unrecoverable error.
// Per §4.2's Execution/Guarantees: on success every file is placed at
// its canonical destination with a verified hash; partial failure
// leaves no half-written destination (downloads land in a temp file
// first, renamed atomically only on success).
func (e *Executor) Run(ctx context.Context, tasks []FetchTask) error {
	total := int64(0)
	for _, t := range tasks {
		total += t.ExpectedSize
	}

	var (
		mu          sync.Mutex
		completed   int
		bytesDone   int64
		lastEmitted time.Time
	)
	progressInterval := time.Second / config.DownloadProgressHz

	emitProgress := func(force bool) {
		mu.Lock()
		defer mu.Unlock()
		if !force && time.Since(lastEmitted) < progressInterval {
			return
		}
		lastEmitted = time.Now()
		e.emitter.Emit(events.DownloadProgress, Progress{
			TotalTasks:      len(tasks),
			Completed:       completed,
			BytesTotalKnown: total,
			BytesDone:       bytesDone,
		})
	}

	sem := semaphore.NewWeighted(e.permits)
	g, ctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		task := task
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			n, err := e.runOne(ctx, task)
			if err != nil {
				return fmt.Errorf("download %s: %w", task.Destination, err)
			}
			mu.Lock()
			completed++
			bytesDone += n
			mu.Unlock()
			emitProgress(false)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	emitProgress(true)
	return nil
}

// runOne streams a single task to a temp file, verifies, and renames
// into place. A transient Stream failure (connect error, 5xx, mid-stream
// copy error) is retried from scratch, per §4.2's backoff schedule: the
// temp file and its digest are fresh each attempt, since a retry that
// reused either would append on top of whatever the failed attempt had
// already written and corrupt both the file and its hash. A hash
// mismatch is never retried, per §4.2 step 3.
func (e *Executor) runOne(ctx context.Context, task FetchTask) (int64, error) {
	if err := config.EnsureDir(filepath.Dir(task.Destination)); err != nil {
		return 0, launchererr.Wrap(launchererr.Filesystem, "create destination directory", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpclient.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(httpclient.BackoffSchedule[attempt-1]):
			}
		}

		n, err := e.attemptFetch(ctx, task)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if launchererr.IsKind(err, launchererr.Integrity) {
			return 0, err
		}
		var streamErr *httpclient.StreamError
		if errors.As(err, &streamErr) && !streamErr.Retriable {
			return 0, err
		}
	}
	return 0, fmt.Errorf("download %s: exhausted retries: %w", task.Destination, lastErr)
}

// attemptFetch is a single, from-scratch attempt: new temp file, new
// digest, stream, verify, rename.
func (e *Executor) attemptFetch(ctx context.Context, task FetchTask) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(task.Destination), ".dl-*")
	if err != nil {
		return 0, launchererr.Wrap(launchererr.Filesystem, "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	var (
		digest *integrity.TeeDigest
		dest   io.Writer = tmp
	)
	if task.ExpectedSHA1 != "" {
		digest, err = integrity.NewTeeDigest(tmp, integrity.SHA1)
		if err != nil {
			return 0, err
		}
		dest = digest
	}

	if err := e.http.Stream(ctx, task.URL, dest); err != nil {
		return 0, launchererr.Wrap(launchererr.Network, "stream download", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, launchererr.Wrap(launchererr.Filesystem, "close temp file", err)
	}

	var n int64
	if digest != nil {
		sum, written := digest.Sum()
		n = written
		if sum != task.ExpectedSHA1 {
			// Leave the temp file for inspection, per §4.2 step 3: do not
			// overwrite destination on a hash mismatch.
			keep := tmpPath + ".mismatch"
			os.Rename(tmpPath, keep)
			return 0, launchererr.New(launchererr.Integrity, fmt.Sprintf("%s: sha1 mismatch: got %s want %s (kept at %s)", task.Destination, sum, task.ExpectedSHA1, keep))
		}
	} else if info, statErr := os.Stat(tmpPath); statErr == nil {
		n = info.Size()
	}

	if err := os.Rename(tmpPath, task.Destination); err != nil {
		return 0, launchererr.Wrap(launchererr.Filesystem, "place downloaded file", err)
	}
	return n, nil
}
