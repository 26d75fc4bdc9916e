// Package catalog manages the on-disk directory of instances: creation,
// enumeration, and the screenshot/log listings surfaced to the UI. The
// per-OS directory resolution idiom mirrors the three-way runtime.GOOS
// switch already used elsewhere in this module's config package.
package catalog

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/manifest"
	"github.com/embercore/launcher-core/src/process"
)

// ModloaderType is the modloader selection for an instance, per §4.1.
type ModloaderType string

const (
	ModloaderNone  ModloaderType = "None"
	ModloaderFabric ModloaderType = "Fabric"
	ModloaderForge  ModloaderType = "Forge"
)

// Resolution holds an instance's configured window size.
type Resolution struct {
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	Maximized bool `json:"maximized"`
}

// InstanceConfig is the persisted document at instances/<name>/instance.json.
type InstanceConfig struct {
	InstanceName           string        `json:"instance_name"`
	VanillaVersion         string        `json:"vanilla_version"`
	ModloaderType          ModloaderType `json:"modloader_type"`
	ModloaderVersion       string        `json:"modloader_version,omitempty"`
	JVMPathOverride        string        `json:"jvm_path_override,omitempty"`
	AdditionalJVMArguments []string      `json:"additional_jvm_arguments"`
	Resolution             Resolution    `json:"resolution"`
	RecordPlaytime         bool          `json:"record_playtime"`
	OverrideOptionsTxt     string        `json:"override_options_txt,omitempty"`
	OverrideServersDat     string        `json:"override_servers_dat,omitempty"`
	Author                 string        `json:"author,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
}

// Catalog manages the instance directory tree under one Paths root.
type Catalog struct {
	paths *config.Paths
	sup   *process.Supervisor
}

// New builds a Catalog. sup supplies the running in-memory log buffers
// for get_logs/read_log_lines's "running" log id.
func New(paths *config.Paths, sup *process.Supervisor) *Catalog {
	return &Catalog{paths: paths, sup: sup}
}

// CreateInstance creates instances/<name>/ with its full subtree and
// writes instance.json, per §4.7. Fails with AlreadyExists if the name
// is already in use.
func (c *Catalog) CreateInstance(cfg InstanceConfig, profile *manifest.ResolvedProfile) error {
	if cfg.InstanceName == "" {
		return launchererr.New(launchererr.Config, "instance_name must not be empty")
	}

	dir := c.paths.InstanceDir(cfg.InstanceName)
	if _, err := os.Stat(dir); err == nil {
		return launchererr.New(launchererr.AlreadyExists, "instance already exists: "+cfg.InstanceName)
	} else if !os.IsNotExist(err) {
		return launchererr.Wrap(launchererr.Filesystem, "stat instance dir", err)
	}

	for _, sub := range []string{
		c.paths.InstanceGameDir(cfg.InstanceName),
		c.paths.InstanceLogsDir(cfg.InstanceName),
		c.paths.InstanceScreenshotsDir(cfg.InstanceName),
		c.paths.InstanceNativesDir(cfg.InstanceName),
	} {
		if err := config.EnsureDir(sub); err != nil {
			return err
		}
	}

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	return c.writeConfig(cfg)
}

func (c *Catalog) writeConfig(cfg InstanceConfig) error {
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return launchererr.Wrap(launchererr.Schema, "marshal instance.json", err)
	}
	path := c.paths.InstanceConfigFile(cfg.InstanceName)
	if err := os.WriteFile(path, body, config.FilePermission); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "write instance.json", err)
	}
	return nil
}

// LoadInstances scans the instances directory, returning every
// successfully parsed instance.json sorted by instance name using
// natural (numeric-aware) collation. Entries that fail to parse are
// skipped rather than aborting the whole scan.
func (c *Catalog) LoadInstances() ([]InstanceConfig, error) {
	entries, err := os.ReadDir(c.paths.InstancesDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read instances dir", err)
	}

	var configs []InstanceConfig
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		body, err := os.ReadFile(c.paths.InstanceConfigFile(entry.Name()))
		if err != nil {
			continue
		}
		var cfg InstanceConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			continue
		}
		if cfg.InstanceName != entry.Name() {
			continue
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		return naturalLess(configs[i].InstanceName, configs[j].InstanceName)
	})
	return configs, nil
}

// LoadInstance reads and parses a single instance's instance.json.
func (c *Catalog) LoadInstance(name string) (InstanceConfig, error) {
	body, err := os.ReadFile(c.paths.InstanceConfigFile(name))
	if os.IsNotExist(err) {
		return InstanceConfig{}, launchererr.New(launchererr.NotFound, "no such instance: "+name)
	}
	if err != nil {
		return InstanceConfig{}, launchererr.Wrap(launchererr.Filesystem, "read instance.json", err)
	}
	var cfg InstanceConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return InstanceConfig{}, launchererr.Wrap(launchererr.Schema, "parse instance.json", err)
	}
	return cfg, nil
}

// OpenFolder opens the OS file explorer at the instance directory.
func (c *Catalog) OpenFolder(name string) error {
	dir := c.paths.InstanceDir(name)
	if _, err := os.Stat(dir); err != nil {
		return launchererr.New(launchererr.NotFound, "no such instance: "+name)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	if err := cmd.Start(); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "open folder", err)
	}
	return nil
}

// GetScreenshots lists .png files under screenshots/, sorted
// descending by filename.
func (c *Catalog) GetScreenshots(name string) ([]string, error) {
	dir := c.paths.InstanceScreenshotsDir(name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read screenshots dir", err)
	}

	var shots []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".png") {
			continue
		}
		shots = append(shots, filepath.Join(dir, entry.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(shots)))
	return shots, nil
}

// GetLogs returns every log id for an instance (the live "running" log
// if it exists, plus every rotated file's basename) mapped to its line
// list, per §4.7/§6's get_logs.
func (c *Catalog) GetLogs(name string) (map[string][]process.TaggedLine, error) {
	result := make(map[string][]process.TaggedLine)

	if buffer, ok := c.sup.RunningBuffer(name); ok {
		result["running"] = buffer
	}

	dir := c.paths.InstanceLogsDir(name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read logs dir", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == config.LatestLogFile {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		lines, err := process.ReadSealedLog(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		result[id] = lines
	}
	return result, nil
}

// ReadLogLines returns the ordered lines for one log id. "running"
// reads the live in-memory buffer; anything else is looked up as a
// rotated file basename under logs/.
func (c *Catalog) ReadLogLines(name, logID string) ([]process.TaggedLine, error) {
	if logID == "running" {
		buffer, ok := c.sup.RunningBuffer(name)
		if !ok {
			return nil, launchererr.New(launchererr.NotFound, "instance not running: "+name)
		}
		return buffer, nil
	}

	dir := c.paths.InstanceLogsDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read logs dir", err)
	}
	for _, entry := range entries {
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if base == logID {
			return process.ReadSealedLog(filepath.Join(dir, entry.Name()))
		}
	}
	return nil, launchererr.New(launchererr.NotFound, "no such log: "+logID)
}

// naturalLess compares two instance names numeric-aware: alternating
// digit/non-digit runs, digit runs compared as integers. No
// natural-sort library appears anywhere in the retrieved examples, so
// this is a direct, small implementation rather than an import.
func naturalLess(a, b string) bool {
	ar, br := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ar) && i < len(br); i++ {
		if ar[i] == br[i] {
			continue
		}
		an, aErr := strconv.Atoi(ar[i])
		bn, bErr := strconv.Atoi(br[i])
		if aErr == nil && bErr == nil {
			return an < bn
		}
		return ar[i] < br[i]
	}
	return len(ar) < len(br)
}

func splitRuns(s string) []string {
	var runs []string
	var current strings.Builder
	var inDigits bool
	for i, r := range s {
		digit := r >= '0' && r <= '9'
		if i > 0 && digit != inDigits {
			runs = append(runs, current.String())
			current.Reset()
		}
		current.WriteRune(r)
		inDigits = digit
	}
	if current.Len() > 0 {
		runs = append(runs, current.String())
	}
	return runs
}
