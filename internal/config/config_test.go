package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/linksweep/pkg/replay"
	"github.com/nainya/linksweep/pkg/report"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Zero(t, cfg.Limit)
	assert.Equal(t, report.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, report.DefaultDir, cfg.ReportsDir)
	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, replay.ModePatch, cfg.ReplaceMode)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
	assert.Nil(t, cfg.Link)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(SearchURL, "https://old.example")
	t.Setenv(ReplaceURL, "https://new.example")
	t.Setenv(DryRun, "FALSE")
	t.Setenv(Limit, "5")
	t.Setenv(MongoCollection, "pages, posts,")
	t.Setenv(Store, "Local")
	t.Setenv(ReplaceMode, "replace")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.False(t, cfg.DryRun)
	assert.Equal(t, 5, cfg.Limit)
	assert.Equal(t, []string{"pages", "posts"}, cfg.MongoCollections)
	assert.Equal(t, StoreLocal, cfg.Store)

	opts := cfg.ReplayOptions()
	assert.Equal(t, "https://old.example", opts.Target)
	assert.Equal(t, "https://new.example", opts.Replacement)
	assert.Equal(t, replay.ModeReplace, opts.Mode)
	assert.Equal(t, 5, opts.Limit)
}

func TestParseDryRun(t *testing.T) {
	assert.True(t, ParseDryRun(""))
	assert.True(t, ParseDryRun("true"))
	assert.True(t, ParseDryRun("0"))
	assert.False(t, ParseDryRun("false"))
	assert.False(t, ParseDryRun(" False "))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		Limit:       "ten",
		Store:       "sqlite",
		ReplaceMode: "upsert",
		LockTTL:     "soon",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := Load(New())
			require.ErrorIs(t, err, ErrInvalid)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, name, cerr.Name)
		})
	}
}

func TestRequire(t *testing.T) {
	t.Setenv(SearchURL, "https://old.example")
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.NoError(t, cfg.Require(SearchURL))

	err = cfg.Require(SearchURL, ReplaceURL)
	require.ErrorIs(t, err, ErrMissing)
	assert.EqualError(t, err, "missing required configuration: REPLACE_URL")

	err = cfg.RequireStore()
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, MongoURI, cerr.Name)
}

func TestLinkRuleFromEnvironment(t *testing.T) {
	t.Setenv(LinkPredicate, "https://old.example/v.mp4")
	t.Setenv(LinkNewRef, "https://new.example/v.mp4")
	t.Setenv(LinkNewDerived, "https://new.example/v.jpg")

	cfg, err := Load(New())
	require.NoError(t, err)
	require.NotNil(t, cfg.Link)
	assert.Equal(t, "https://old.example/v.mp4", *cfg.Link.Predicate)
	assert.Equal(t, "https://new.example/v.mp4", *cfg.Link.NewRef)
	assert.Equal(t, "https://new.example/v.jpg", *cfg.Link.NewDerived)
	assert.Empty(t, cfg.Link.RefField)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv(DryRun, "true")
	t.Setenv(Limit, "5")

	flags := pflag.NewFlagSet("replace", pflag.ContinueOnError)
	flags.String("dry-run", "true", "")
	flags.Int("limit", 0, "")
	require.NoError(t, flags.Parse([]string{"--dry-run=false"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{
		DryRun:     "dry-run",
		Limit:      "limit",
		ReportsDir: "missing-flag",
	}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 5, cfg.Limit)
}
