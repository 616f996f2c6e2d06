package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot/jobtracker/internal/config"
	"github.com/applybot/jobtracker/internal/job"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, config.Version+"\n", out.String())
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []string{config.StoreSQLite, config.StoreBadger} {
		t.Run(kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.JobStore = kind
			cfg.DataDir = filepath.Join(dir, kind)
			cfg.DBPath = filepath.Join(cfg.DataDir, "jobs.db")

			store, err := openStore(cfg)
			require.NoError(t, err)
			defer store.Close()

			id, err := store.Create(t.Context(), job.Document{"questions": map[string]any{}})
			require.NoError(t, err)
			_, ok, err := store.Get(t.Context(), id)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
