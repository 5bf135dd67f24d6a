package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("JWT_SECRET", "cli-test-secret")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeed_MemoryDriver(t *testing.T) {
	out, err := run(t, "seed", "--driver", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "users: 10 created, 0 skipped")
	assert.Contains(t, out, "department approvers: 7 assigned, 0 skipped")
}

func TestMigrate_MemoryDriver(t *testing.T) {
	out, err := run(t, "migrate", "--driver", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}

func TestBackfillFlow_EmptyStore(t *testing.T) {
	out, err := run(t, "backfill-flow", "--driver", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "requests: 0, inserted: 0, updated: 0, skipped: 0")
}

func TestUnknownDriver(t *testing.T) {
	_, err := run(t, "backfill-flow", "--driver", "sqlite")
	assert.Error(t, err)
}

func TestRejectsArguments(t *testing.T) {
	_, err := run(t, "seed", "extra")
	assert.Error(t, err)
}
