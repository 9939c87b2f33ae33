package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "opendlp.db", cfg.Database.Path)
	assert.Equal(t, 8710, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Selection.Workers)
	assert.Equal(t, time.Second, cfg.Selection.TickerInterval())
	assert.Equal(t, time.Minute, cfg.Selection.SweepInterval())
	assert.Equal(t, 2*time.Minute, cfg.Selection.SubmitGrace())
	assert.Empty(t, cfg.Assemblies)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opendlp.toml")
	content := `
[database]
path = "/var/lib/opendlp/opendlp.db"

[server]
port = 9000

[selection]
workers = 4
source_base_dir = "/srv/sources"

[assemblies.asm_north]
name = "Northern Assembly"
managers = ["alice", "bob"]

[assemblies.asm_north.selection]
source_id = "north-2026"
service_account = "selector@example.org"
id_column = "nationbuilder_id"
check_same_address = true
address_columns = ["address1", "postcode"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/opendlp/opendlp.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Selection.Workers)
	assert.Equal(t, "/srv/sources", cfg.Selection.SourceBaseDir)

	require.Contains(t, cfg.Assemblies, "asm_north")
	assembly := cfg.Assemblies["asm_north"]
	assert.Equal(t, "Northern Assembly", assembly.Name)
	assert.Equal(t, []string{"alice", "bob"}, assembly.Managers)
	require.NotNil(t, assembly.Selection)
	assert.Equal(t, "north-2026", assembly.Selection.SourceID)
	assert.True(t, assembly.Selection.CheckSameAddress)
	assert.Equal(t, []string{"address1", "postcode"}, assembly.Selection.AddressColumns)
}

func TestDirectoryGetAssembly(t *testing.T) {
	cfg := &Config{
		Assemblies: map[string]Assembly{
			"asm_1": {
				Name:     "First",
				Managers: []string{"alice"},
				Selection: &AssemblySelection{
					SourceID:       "first-source",
					ServiceAccount: "svc@example.org",
					IDColumn:       "id",
				},
			},
			"asm_bare": {Name: "No selection configured"},
		},
	}
	directory := NewDirectory(cfg)
	ctx := context.Background()

	assembly, err := directory.GetAssembly(ctx, "asm_1")
	require.NoError(t, err)
	require.NotNil(t, assembly)
	assert.Equal(t, "asm_1", assembly.ID)
	require.NotNil(t, assembly.Settings)
	assert.Equal(t, "first-source", assembly.Settings.SourceID)

	bare, err := directory.GetAssembly(ctx, "asm_bare")
	require.NoError(t, err)
	require.NotNil(t, bare)
	assert.Nil(t, bare.Settings)

	missing, err := directory.GetAssembly(ctx, "asm_ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDirectoryCanManage(t *testing.T) {
	cfg := &Config{
		Assemblies: map[string]Assembly{
			"asm_1":    {Managers: []string{"alice"}},
			"asm_open": {Managers: []string{"*"}},
		},
	}
	directory := NewDirectory(cfg)
	ctx := context.Background()

	allowed, err := directory.CanManage(ctx, "alice", "asm_1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = directory.CanManage(ctx, "mallory", "asm_1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = directory.CanManage(ctx, "anyone", "asm_open")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = directory.CanManage(ctx, "alice", "asm_ghost")
	require.NoError(t, err)
	assert.False(t, allowed)
}
