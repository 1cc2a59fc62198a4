package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/mesh-intelligence/panoptikon-gw/internal/pql"
)

// fileScanFilterTag is the JobFilter.Tag value that marks an entry as
// applying to the File-Scan Service's accept/prune decisions, as opposed to
// other job stages (e.g. data extraction) that reuse the same table.
const fileScanFilterTag = "file_scan"

// CronJob schedules a recurring inference/extraction job for a database.
type CronJob struct {
	InferenceID string   `toml:"inference_id"`
	BatchSize   *int64   `toml:"batch_size,omitempty"`
	Threshold   *float64 `toml:"threshold,omitempty"`
}

// JobSettings groups default parameters for a named inference job group.
type JobSettings struct {
	GroupName        string  `toml:"group_name"`
	InferenceID      string  `toml:"inference_id"`
	DefaultBatchSize int64   `toml:"default_batch_size"`
	DefaultThreshold float64 `toml:"default_threshold"`
}

// ContinuousFilescanConfig configures the Continuous-Scan Actor for one
// database.
type ContinuousFilescanConfig struct {
	Enabled         bool     `toml:"enabled"`
	PollIntervalSec *uint64  `toml:"poll_interval_secs,omitempty"`
	IncludedFolders []string `toml:"included_folders"`
}

// JobFilter is a PQL predicate tagged with the job stage it gates, kept
// opaque per the filter-expression contract in internal/pql.
type JobFilter struct {
	Tag   string `toml:"tag"`
	Match string `toml:"match"`
}

// SystemConfig is the per-database configuration loaded from
// <data_root>/index/<db_key>/system_config.toml. Field set and defaults are
// ported from the original service's SystemConfig struct.
type SystemConfig struct {
	RemoveUnavailableFiles bool   `toml:"remove_unavailable_files"`
	ScanImages             bool   `toml:"scan_images"`
	ScanVideo              bool   `toml:"scan_video"`
	ScanAudio              bool   `toml:"scan_audio"`
	ScanHTML               bool   `toml:"scan_html"`
	ScanPDF                bool   `toml:"scan_pdf"`
	EnableCronJob          bool   `toml:"enable_cron_job"`
	CronSchedule           string `toml:"cron_schedule"`

	CronJobs        []CronJob     `toml:"cron_jobs"`
	JobSettings     []JobSettings `toml:"job_settings"`
	IncludedFolders []string      `toml:"included_folders"`
	ExcludedFolders []string      `toml:"excluded_folders"`

	PreloadEmbeddingModels bool                     `toml:"preload_embedding_models"`
	ContinuousFilescan     ContinuousFilescanConfig  `toml:"continuous_filescan"`
	JobFilters             []JobFilter              `toml:"job_filters"`
	FilescanFilter         string                   `toml:"filescan_filter,omitempty"`

	// Extra records the names of top-level keys this version of the struct
	// doesn't know about, populated from toml.MetaData.Undecoded() by
	// LoadSystemConfig. Only the key names are kept (each value is an empty
	// string), and the field is not encoded, so SaveSystemConfig drops
	// unknown keys.
	Extra map[string]string `toml:"-"`
}

// DefaultSystemConfig matches the Rust struct's #[serde(default = "...")]
// field defaults.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		RemoveUnavailableFiles: true,
		ScanImages:             true,
		ScanVideo:              true,
		ScanAudio:              false,
		ScanHTML:               false,
		ScanPDF:                false,
		EnableCronJob:          false,
		CronSchedule:           "0 3 * * *",
		ContinuousFilescan: ContinuousFilescanConfig{
			Enabled: false,
		},
	}
}

// FileScanFilterExpr compiles FilescanFilter and any JobFilters tagged
// "file_scan" into a single pql.Expr the File-Scan Service can use for both
// its accept filter and its post-scan prune filter. Returns nil when no
// filter is configured, matching the "no filter configured" case
// filescan.Scan/prune already treat as accept-everything.
func (c SystemConfig) FileScanFilterExpr() pql.Expr {
	var patterns []string
	if c.FilescanFilter != "" {
		patterns = append(patterns, c.FilescanFilter)
	}
	for _, jf := range c.JobFilters {
		if jf.Tag == fileScanFilterTag && jf.Match != "" {
			patterns = append(patterns, jf.Match)
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return pql.CompileGlobs(patterns)
}

// SystemConfigPath returns the path a database's system config lives at.
func SystemConfigPath(dataRoot, dbKey string) string {
	return filepath.Join(dataRoot, "index", dbKey, "system_config.toml")
}

// LoadSystemConfig reads a database's system config, returning defaults if
// the file does not yet exist.
func LoadSystemConfig(dataRoot, dbKey string) (SystemConfig, error) {
	path := SystemConfigPath(dataRoot, dbKey)

	cfg := DefaultSystemConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		cfg.Extra = make(map[string]string, len(undecoded))
		for _, key := range undecoded {
			cfg.Extra[key.String()] = ""
		}
	}
	return cfg, nil
}

// SaveSystemConfig writes a database's system config back to disk,
// creating the parent directory if needed.
func SaveSystemConfig(dataRoot, dbKey string, cfg SystemConfig) error {
	path := SystemConfigPath(dataRoot, dbKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}
	return nil
}
