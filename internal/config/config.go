// ABOUTME: Environment and flag configuration loaded through viper
// ABOUTME: Flags override environment variables; required names fail with *Error

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/replay"
	"github.com/nainya/linksweep/pkg/report"
)

var (
	// ErrMissing marks a required variable that is unset or empty
	ErrMissing = errors.New("missing required configuration")

	// ErrInvalid marks a variable whose value cannot be used
	ErrInvalid = errors.New("invalid configuration value")
)

// Error names the offending variable
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Name)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Variable names
const (
	SearchURL        = "SEARCH_URL"
	ReplaceURL       = "REPLACE_URL"
	DryRun           = "DRY_RUN"
	Limit            = "LIMIT"
	BaseURL          = "BASE_URL"
	ReportsDir       = "REPORTS_DIR"
	Store            = "STORE"
	MongoURI         = "MONGODB_URI"
	MongoDB          = "MONGODB_DB"
	MongoCollection  = "MONGODB_COLLECTION"
	DatabaseURL      = "DATABASE_URL"
	LocalDBPath      = "LOCAL_DB_PATH"
	HistoryPath      = "HISTORY_PATH"
	RedisURL         = "REDIS_URL"
	LockTTL          = "LOCK_TTL"
	JournalPath      = "JOURNAL_PATH"
	LogLevel         = "LOG_LEVEL"
	LogPretty        = "LOG_PRETTY"
	ReplaceMode      = "REPLACE_MODE"
	GrpcPort         = "GRPC_PORT"
	MetricsPort      = "METRICS_PORT"
	LinkRefField     = "LINK_REF_FIELD"
	LinkPredicate    = "LINK_PREDICATE"
	LinkNewRef       = "LINK_NEW_REF"
	LinkDerivedField = "LINK_DERIVED_FIELD"
	LinkNewDerived   = "LINK_NEW_DERIVED"
)

// Store backends
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreLocal    = "local"
)

// Config is the resolved configuration
type Config struct {
	SearchURL   string
	ReplaceURL  string
	DryRun      bool
	Limit       int // 0 means no limit
	BaseURL     string
	ReportsDir  string
	ReplaceMode replay.Mode

	Store            string
	MongoURI         string
	MongoDB          string
	MongoCollections []string
	DatabaseURL      string
	LocalDBPath      string
	HistoryPath      string
	JournalPath      string

	RedisURL string
	LockTTL  time.Duration

	LogLevel  string
	LogPretty bool

	GrpcPort    int
	MetricsPort int

	// Link is nil unless a LINK_NEW_* variable is set
	Link *patch.LinkRule
}

// New returns a viper instance reading the environment with defaults applied
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(DryRun, "true")
	v.SetDefault(BaseURL, report.DefaultBaseURL)
	v.SetDefault(ReportsDir, report.DefaultDir)
	v.SetDefault(Store, StoreMongo)
	v.SetDefault(LocalDBPath, "linksweep-data")
	v.SetDefault(HistoryPath, "linksweep-history")
	v.SetDefault(JournalPath, "linksweep.journal")
	v.SetDefault(LockTTL, "2m")
	v.SetDefault(LogLevel, "info")
	v.SetDefault(ReplaceMode, string(replay.ModePatch))
	v.SetDefault(GrpcPort, 50051)
	v.SetDefault(MetricsPort, 9090)
	return v
}

// BindFlags lets command-line flags override variables. bindings maps
// variable names to flag names; unknown flags are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for name, flag := range bindings {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(name, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load resolves every variable. Only shape errors are reported here; use
// Require for presence checks.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		SearchURL:   v.GetString(SearchURL),
		ReplaceURL:  v.GetString(ReplaceURL),
		DryRun:      ParseDryRun(v.GetString(DryRun)),
		BaseURL:     v.GetString(BaseURL),
		ReportsDir:  v.GetString(ReportsDir),
		Store:       strings.ToLower(strings.TrimSpace(v.GetString(Store))),
		MongoURI:    v.GetString(MongoURI),
		MongoDB:     v.GetString(MongoDB),
		DatabaseURL: v.GetString(DatabaseURL),
		LocalDBPath: v.GetString(LocalDBPath),
		HistoryPath: v.GetString(HistoryPath),
		JournalPath: v.GetString(JournalPath),
		RedisURL:    v.GetString(RedisURL),
		LogLevel:    v.GetString(LogLevel),
		LogPretty:   v.GetBool(LogPretty),
		GrpcPort:    v.GetInt(GrpcPort),
		MetricsPort: v.GetInt(MetricsPort),
	}
	cfg.MongoCollections = splitList(v.GetString(MongoCollection))

	if raw := strings.TrimSpace(v.GetString(Limit)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &Error{Name: Limit, Err: ErrInvalid}
		}
		cfg.Limit = n
	}

	mode, err := replay.ParseMode(v.GetString(ReplaceMode))
	if err != nil {
		return nil, &Error{Name: ReplaceMode, Err: ErrInvalid}
	}
	cfg.ReplaceMode = mode

	switch cfg.Store {
	case StoreMongo, StorePostgres, StoreLocal:
	default:
		return nil, &Error{Name: Store, Err: ErrInvalid}
	}

	ttl, err := time.ParseDuration(v.GetString(LockTTL))
	if err != nil || ttl <= 0 {
		return nil, &Error{Name: LockTTL, Err: ErrInvalid}
	}
	cfg.LockTTL = ttl

	cfg.Link = linkRule(v)
	return cfg, nil
}

// ParseDryRun treats every value except "false" as true
func ParseDryRun(s string) bool {
	return !strings.EqualFold(strings.TrimSpace(s), "false")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optional(v *viper.Viper, name string) *string {
	if !v.IsSet(name) {
		return nil
	}
	s := v.GetString(name)
	return &s
}

func linkRule(v *viper.Viper) *patch.LinkRule {
	rule := patch.LinkRule{
		RefField:     v.GetString(LinkRefField),
		Predicate:    optional(v, LinkPredicate),
		NewRef:       optional(v, LinkNewRef),
		DerivedField: v.GetString(LinkDerivedField),
		NewDerived:   optional(v, LinkNewDerived),
	}
	if !rule.Active() {
		return nil
	}
	return &rule
}

// Require fails with *Error for the first named variable that is empty
func (c *Config) Require(names ...string) error {
	for _, name := range names {
		if c.value(name) == "" {
			return &Error{Name: name, Err: ErrMissing}
		}
	}
	return nil
}

func (c *Config) value(name string) string {
	switch name {
	case SearchURL:
		return c.SearchURL
	case ReplaceURL:
		return c.ReplaceURL
	case BaseURL:
		return c.BaseURL
	case ReportsDir:
		return c.ReportsDir
	case MongoURI:
		return c.MongoURI
	case MongoDB:
		return c.MongoDB
	case MongoCollection:
		return strings.Join(c.MongoCollections, ",")
	case DatabaseURL:
		return c.DatabaseURL
	case LocalDBPath:
		return c.LocalDBPath
	case HistoryPath:
		return c.HistoryPath
	case JournalPath:
		return c.JournalPath
	case RedisURL:
		return c.RedisURL
	}
	return ""
}

// RequireStore checks the variables the selected backend needs
func (c *Config) RequireStore() error {
	switch c.Store {
	case StoreMongo:
		return c.Require(MongoURI, MongoDB, MongoCollection)
	case StorePostgres:
		return c.Require(DatabaseURL)
	default:
		return c.Require(LocalDBPath)
	}
}

// ReplayOptions builds executor options from the configuration
func (c *Config) ReplayOptions() replay.Options {
	return replay.Options{
		Target:      c.SearchURL,
		Replacement: c.ReplaceURL,
		DryRun:      c.DryRun,
		Limit:       c.Limit,
		Mode:        c.ReplaceMode,
		Link:        c.Link,
	}
}
