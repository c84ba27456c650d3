package stackforge

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/pixil98/go-errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	GatewayBackendStorage = "storage"
	GatewayBackendSQL     = "sql"

	defaultMaxSlot           = 49
	defaultSlotIndex         = 10
	defaultReconcileSchedule = "*/5 * * * *"
	defaultReconcileMinAge   = 60
	defaultReconcileBatch    = 100
	defaultReconcileAttempts = 5
	defaultSubjectPrefix     = "inventory"
	defaultStacksTable       = "inventory_stacks"
	operationsCollection     = "inventory_operations"
)

var sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StacksConfig is the data definition for the stacks system.
type StacksConfig struct {
	// MaxSlot is the highest slot index a stack may be placed in.
	MaxSlot int `json:"max_slot,omitempty" yaml:"max_slot,omitempty"`
	// DefaultSlot is reported for stacks that never had a slot recorded. -1 means unassigned.
	DefaultSlot *int `json:"default_slot,omitempty" yaml:"default_slot,omitempty"`
	// SerializePerPlayer runs at most one mutation per player at a time.
	SerializePerPlayer *bool `json:"serialize_per_player,omitempty" yaml:"serialize_per_player,omitempty"`

	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
}

type GatewayConfig struct {
	Backend    string    `json:"backend,omitempty" yaml:"backend,omitempty"`       // "storage" or "sql"
	Collection string    `json:"collection,omitempty" yaml:"collection,omitempty"` // storage collection
	PageSize   int       `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	CasRetries int       `json:"cas_retries,omitempty" yaml:"cas_retries,omitempty"`
	SQL        SQLConfig `json:"sql" yaml:"sql"`
}

type SQLConfig struct {
	Dialect string `json:"dialect,omitempty" yaml:"dialect,omitempty"` // "postgres" or "sqlite"
	// DSN opens a dedicated SQLite database instead of the server's database connection.
	DSN   string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
}

type JournalConfig struct {
	Enabled    *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
}

type ReconcileConfig struct {
	// Schedule is a standard five field cron expression. Empty disables scheduled runs.
	Schedule  string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	MinAgeSec int64  `json:"min_age_sec,omitempty" yaml:"min_age_sec,omitempty"`
	BatchSize int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	// MaxAttempts is how many resumes an operation gets before it is set aside as failed.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

type PublisherConfig struct {
	NatsURL       string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
}

// DefaultStacksConfig returns a configuration with every default applied, used when no file is given.
// Unlike a loaded file it also schedules the reconciler.
func DefaultStacksConfig() *StacksConfig {
	config := &StacksConfig{}
	config.Reconcile.Schedule = defaultReconcileSchedule
	config.ApplyDefaults()
	return config
}

// LoadConfig reads a JSON or YAML configuration file through the server runtime.
func LoadConfig(nk runtime.NakamaModule, path string) (*StacksConfig, error) {
	file, err := nk.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	return ParseConfig(data, ext == ".yaml" || ext == ".yml")
}

// ParseConfig decodes, defaults and validates a configuration document.
func ParseConfig(data []byte, isYAML bool) (*StacksConfig, error) {
	config := &StacksConfig{}
	if isYAML {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing json config: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults fills every unset field.
func (c *StacksConfig) ApplyDefaults() {
	if c.MaxSlot == 0 {
		c.MaxSlot = defaultMaxSlot
	}
	if c.DefaultSlot == nil {
		// A grid too small for the built-in default leaves unplaced stacks unassigned.
		slot := defaultSlotIndex
		if slot > c.MaxSlot {
			slot = unassignedSlotIndex
		}
		c.DefaultSlot = &slot
	}
	if c.SerializePerPlayer == nil {
		serialize := true
		c.SerializePerPlayer = &serialize
	}

	if c.Gateway.Backend == "" {
		c.Gateway.Backend = GatewayBackendStorage
	}
	if c.Gateway.Collection == "" {
		c.Gateway.Collection = inventoryStorageCollection
	}
	if c.Gateway.PageSize == 0 {
		c.Gateway.PageSize = defaultInventoryPageSize
	}
	if c.Gateway.CasRetries == 0 {
		c.Gateway.CasRetries = defaultCasRetries
	}
	if c.Gateway.SQL.Dialect == "" {
		c.Gateway.SQL.Dialect = string(SQLDialectPostgres)
		if c.Gateway.SQL.DSN != "" {
			c.Gateway.SQL.Dialect = string(SQLDialectSQLite)
		}
	}
	if c.Gateway.SQL.Table == "" {
		c.Gateway.SQL.Table = defaultStacksTable
	}

	if c.Journal.Enabled == nil {
		enabled := true
		c.Journal.Enabled = &enabled
	}
	if c.Journal.Collection == "" {
		c.Journal.Collection = operationsCollection
	}

	if c.Reconcile.MinAgeSec == 0 {
		c.Reconcile.MinAgeSec = defaultReconcileMinAge
	}
	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = defaultReconcileBatch
	}
	if c.Reconcile.MaxAttempts == 0 {
		c.Reconcile.MaxAttempts = defaultReconcileAttempts
	}

	if c.Publisher.SubjectPrefix == "" {
		c.Publisher.SubjectPrefix = defaultSubjectPrefix
	}
}

// Validate reports every problem with the configuration at once.
func (c *StacksConfig) Validate() error {
	el := errors.NewErrorList()

	if c.MaxSlot < 0 {
		el.Add(fmt.Errorf("max_slot must not be negative: %d", c.MaxSlot))
	}
	if c.DefaultSlot != nil && !c.ValidSlot(SlotFromInt(*c.DefaultSlot)) {
		el.Add(fmt.Errorf("default_slot out of range: %d", *c.DefaultSlot))
	}

	switch c.Gateway.Backend {
	case GatewayBackendStorage, GatewayBackendSQL:
	default:
		el.Add(fmt.Errorf("gateway backend must be %q or %q: %q", GatewayBackendStorage, GatewayBackendSQL, c.Gateway.Backend))
	}
	if c.Gateway.PageSize < 0 || c.Gateway.PageSize > maxInventoryPageSize {
		el.Add(fmt.Errorf("gateway page_size must be between 1 and %d: %d", maxInventoryPageSize, c.Gateway.PageSize))
	}
	if c.Gateway.CasRetries < 0 {
		el.Add(fmt.Errorf("gateway cas_retries must not be negative: %d", c.Gateway.CasRetries))
	}
	switch SQLDialect(c.Gateway.SQL.Dialect) {
	case SQLDialectPostgres, SQLDialectSQLite:
	default:
		el.Add(fmt.Errorf("gateway sql dialect must be %q or %q: %q", SQLDialectPostgres, SQLDialectSQLite, c.Gateway.SQL.Dialect))
	}
	if !sqlIdentifier.MatchString(c.Gateway.SQL.Table) {
		el.Add(fmt.Errorf("gateway sql table is not a valid identifier: %q", c.Gateway.SQL.Table))
	}

	if c.Reconcile.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			el.Add(fmt.Errorf("parsing reconcile schedule: %w", err))
		}
	}
	if c.Reconcile.MinAgeSec < 0 {
		el.Add(fmt.Errorf("reconcile min_age_sec must not be negative: %d", c.Reconcile.MinAgeSec))
	}
	if c.Reconcile.BatchSize < 0 {
		el.Add(fmt.Errorf("reconcile batch_size must not be negative: %d", c.Reconcile.BatchSize))
	}
	if c.Reconcile.MaxAttempts < 0 {
		el.Add(fmt.Errorf("reconcile max_attempts must not be negative: %d", c.Reconcile.MaxAttempts))
	}

	return el.Err()
}

// ValidSlot reports whether a stack may be placed in the slot.
func (c *StacksConfig) ValidSlot(slot Slot) bool {
	if !slot.IsAssigned() {
		return true
	}
	index, _ := slot.Index()
	return index >= 0 && index <= c.MaxSlot
}

// Fallback returns the slot reported for stacks with no recorded slot.
func (c *StacksConfig) Fallback() Slot {
	if c.DefaultSlot == nil {
		return AssignedSlot(defaultSlotIndex)
	}
	return SlotFromInt(*c.DefaultSlot)
}

func (c *StacksConfig) serializePerPlayer() bool {
	return c.SerializePerPlayer == nil || *c.SerializePerPlayer
}

func (c *StacksConfig) journalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

func (c *ReconcileConfig) minAge() time.Duration {
	return time.Duration(c.MinAgeSec) * time.Second
}
