// Package config defines the YAML-backed configuration of the three
// services. Each service struct carries defaults and validation; the cmd
// entrypoints load a file and may override the listen address by flag.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
	"github.com/JoDio-zd/DistributeDataBase/pkg/logger"
)

// Duration parses YAML durations like "3s" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a YAML config file into cfg.
func Load(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Index strategy names accepted in RM.Index.
const (
	IndexPrefix    = "prefix"
	IndexComposite = "composite"
	IndexLinear    = "linear"
)

// RM configures one resource manager service.
type RM struct {
	ListenAddr string `yaml:"listen_addr"`
	// AdvertiseURL is the base URL this RM enlists with the TM. Defaults to
	// http://<listen_addr>.
	AdvertiseURL string `yaml:"advertise_url"`
	TMURL        string `yaml:"tm_url"`

	Table string `yaml:"table"`
	// Index picks the routing strategy: prefix, composite or linear.
	Index string `yaml:"index"`

	// Prefix / linear settings.
	KeyColumn   string `yaml:"key_column"`
	KeyWidth    int    `yaml:"key_width"`
	OffsetWidth int    `yaml:"offset_width"`
	PageSize    int    `yaml:"page_size"`

	// Composite settings.
	KeyColumns    []pageindex.Column `yaml:"key_columns"`
	PrefixColumns int                `yaml:"prefix_columns"`

	// DSN is the MySQL DSN of the backing store. Empty runs the in-memory
	// backend (useful for tests and local bring-up).
	DSN string `yaml:"dsn"`

	JournalPath  string `yaml:"journal_path"`
	PoolCapacity int    `yaml:"pool_capacity"`

	Log logger.Config `yaml:"log"`
}

// Validate applies defaults and rejects inconsistent settings.
func (c *RM) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8001"
	}
	if c.AdvertiseURL == "" {
		c.AdvertiseURL = "http://" + c.ListenAddr
	}
	if c.Table == "" {
		return fmt.Errorf("rm config: table is required")
	}
	if c.Index == "" {
		c.Index = IndexPrefix
	}
	if c.JournalPath == "" {
		c.JournalPath = c.Table + ".prepare.journal"
	}
	switch c.Index {
	case IndexPrefix:
		if c.KeyColumn == "" {
			return fmt.Errorf("rm config: key_column is required for the prefix index")
		}
		if c.KeyWidth <= 0 {
			c.KeyWidth = 4
		}
		if c.OffsetWidth < 0 || c.OffsetWidth >= c.KeyWidth {
			return fmt.Errorf("rm config: offset_width %d out of range for key_width %d", c.OffsetWidth, c.KeyWidth)
		}
	case IndexLinear:
		if c.KeyColumn == "" {
			return fmt.Errorf("rm config: key_column is required for the linear index")
		}
		if c.PageSize <= 0 {
			c.PageSize = 16
		}
		if c.KeyWidth <= 0 {
			c.KeyWidth = 8
		}
	case IndexComposite:
		if len(c.KeyColumns) < 2 {
			return fmt.Errorf("rm config: composite index needs key_columns")
		}
		if c.PrefixColumns <= 0 {
			c.PrefixColumns = 1
		}
	default:
		return fmt.Errorf("rm config: unknown index strategy %q", c.Index)
	}
	return nil
}

// BuildIndex constructs the configured PageIndex.
func (c *RM) BuildIndex() (pageindex.PageIndex, error) {
	switch c.Index {
	case IndexLinear:
		return pageindex.NewLinearBucket(c.PageSize, c.KeyWidth)
	case IndexComposite:
		return pageindex.NewCompositeFixedWidth(c.KeyColumns, c.PrefixColumns)
	default:
		return pageindex.NewPrefixOrdered(c.KeyWidth, c.OffsetWidth)
	}
}

// SQLKeyColumns lists the backing table's primary key columns in key order.
func (c *RM) SQLKeyColumns() []string {
	if c.Index == IndexComposite {
		cols := make([]string, len(c.KeyColumns))
		for i, col := range c.KeyColumns {
			cols[i] = col.Name
		}
		return cols
	}
	return []string{c.KeyColumn}
}

// TM configures the transaction manager service.
type TM struct {
	ListenAddr       string   `yaml:"listen_addr"`
	PrepareTimeout   Duration `yaml:"prepare_timeout"`
	CommitTimeout    Duration `yaml:"commit_timeout"`
	RetryLimit       int      `yaml:"retry_limit"`
	RetryBackoff     Duration `yaml:"retry_backoff"`
	OutcomeCacheSize int      `yaml:"outcome_cache_size"`

	Log logger.Config `yaml:"log"`
}

// Validate applies defaults.
func (c *TM) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9000"
	}
	return nil
}

// WC configures the workflow controller service.
type WC struct {
	ListenAddr string `yaml:"listen_addr"`
	TMURL      string `yaml:"tm_url"`

	FlightsURL      string `yaml:"flights_url"`
	HotelsURL       string `yaml:"hotels_url"`
	CarsURL         string `yaml:"cars_url"`
	CustomersURL    string `yaml:"customers_url"`
	ReservationsURL string `yaml:"reservations_url"`

	// AutoAbort aborts the enclosing transaction on downstream failures.
	// Defaults to on.
	AutoAbort *bool `yaml:"auto_abort"`
	// CommitTimeout is the client-facing IN_DOUBT budget.
	CommitTimeout Duration `yaml:"commit_timeout"`
	// RequestTimeout bounds each outbound RM/TM call.
	RequestTimeout Duration `yaml:"request_timeout"`

	Log logger.Config `yaml:"log"`
}

// Validate applies defaults and rejects missing endpoints.
func (c *WC) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8000"
	}
	for name, v := range map[string]string{
		"tm_url":           c.TMURL,
		"flights_url":      c.FlightsURL,
		"hotels_url":       c.HotelsURL,
		"cars_url":         c.CarsURL,
		"customers_url":    c.CustomersURL,
		"reservations_url": c.ReservationsURL,
	} {
		if v == "" {
			return fmt.Errorf("wc config: %s is required", name)
		}
	}
	return nil
}

// AutoAbortEnabled resolves the AutoAbort default (on).
func (c *WC) AutoAbortEnabled() bool {
	return c.AutoAbort == nil || *c.AutoAbort
}
