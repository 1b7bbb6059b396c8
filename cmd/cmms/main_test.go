package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-cmms/internal/testing/guard"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"ledger", "verify"},
		{"jobs", "trigger"},
		{"jobs", "stats"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}

	verify, _, err := root.Find([]string{"ledger", "verify"})
	require.NoError(t, err)
	for _, flag := range []string{"company", "concurrency", "json"} {
		require.NotNil(t, verify.Flags().Lookup(flag), flag)
	}
}

func TestJobsTriggerRequiresTaskName(t *testing.T) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"jobs", "trigger"})
	require.Error(t, root.Execute())
}

func TestExitCodeError(t *testing.T) {
	require.Equal(t, "exit status 10", exitCode(10).Error())
}
