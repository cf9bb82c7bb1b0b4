package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-records/config"
	"github.com/warp/retail-records/retail"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testOptions(env map[string]string) *RootOptions {
	return &RootOptions{
		Getenv:  func(k string) string { return env[k] },
		Clock:   func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) },
		ScanIDs: func() string { return "scan-cli-0001" },
	}
}

func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "retail.db")
}

// =============================================================================
// COMMAND TREE
// =============================================================================

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "retail", cmd.Use)
	assert.Contains(t, cmd.Long, "sales")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "seed", "scan"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"config", "db", "storage", "log-level"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue, "%s defaults come from config", name)
	}
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	port := serve.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "8080", port.DefValue)

	seedCmd, _, err := cmd.Find([]string{"seed"})
	require.NoError(t, err)
	assert.Equal(t, "corner-shop", seedCmd.Flags().Lookup("scenario").DefValue)
	assert.Equal(t, "1", seedCmd.Flags().Lookup("seed").DefValue)

	scan, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)
	assert.Equal(t, "text", scan.Flags().Lookup("format").DefValue)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestResolve_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retail.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: dynamodb\nlog:\n  level: warn\n"), 0o600))

	t.Run("file", func(t *testing.T) {
		opts := testOptions(nil)
		_, err := execute(t, opts, "--config", path, "seed", "--list")
		require.NoError(t, err)
		assert.Equal(t, config.DriverDynamoDB, opts.Config.Storage.Driver)
		assert.Equal(t, "warn", opts.Config.Log.Level)
	})

	t.Run("env over file", func(t *testing.T) {
		opts := testOptions(map[string]string{"RETAIL_STORAGE": "memory"})
		_, err := execute(t, opts, "--config", path, "seed", "--list")
		require.NoError(t, err)
		assert.Equal(t, config.DriverMemory, opts.Config.Storage.Driver)
	})

	t.Run("flag over env", func(t *testing.T) {
		opts := testOptions(map[string]string{"RETAIL_STORAGE": "memory"})
		_, err := execute(t, opts, "--config", path, "--storage", "sqlite", "--db", "x.db", "--log-level", "debug", "seed", "--list")
		require.NoError(t, err)
		assert.Equal(t, config.DriverSQLite, opts.Config.Storage.Driver)
		assert.Equal(t, "x.db", opts.Config.Storage.SQLitePath)
		assert.Equal(t, "debug", opts.Config.Log.Level)
	})
}

func TestResolve_InvalidConfig(t *testing.T) {
	_, err := execute(t, testOptions(nil), "--storage", "postgres", "scan")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, testOptions(nil), "--config", filepath.Join(t.TempDir(), "missing.yaml"), "scan")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// =============================================================================
// SEED AND SCAN
// =============================================================================

func TestSeed_List(t *testing.T) {
	out, err := execute(t, testOptions(nil), "--storage", "memory", "seed", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "corner-shop")
	assert.Contains(t, out, "busy-week")
}

func TestSeed_UnknownScenario(t *testing.T) {
	_, err := execute(t, testOptions(nil), "--storage", "memory", "seed", "--scenario", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeed_InvalidFormat(t *testing.T) {
	_, err := execute(t, testOptions(nil), "--storage", "memory", "seed", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSeedThenScan(t *testing.T) {
	db := tempDB(t)

	// GIVEN: a seeded database
	out, err := execute(t, testOptions(nil), "--db", db, "seed", "--scenario", "corner-shop")
	require.NoError(t, err)
	assert.Equal(t, "loaded corner-shop: 1 customers, 1 products, 1 stores, 1 sales\n", out)

	// WHEN: it is scanned
	out, err = execute(t, testOptions(nil), "--db", db, "scan")

	// THEN: the report is clean
	require.NoError(t, err)
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "scan_clean", []byte(out))
}

func TestScan_DanglingReferenceExitsFailure(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, testOptions(nil), "--db", db, "seed", "--scenario", "corner-shop")
	require.NoError(t, err)

	// GIVEN: a customer removed behind the service's back
	raw, err := sql.Open("sqlite3", db)
	require.NoError(t, err)
	_, err = raw.Exec(`DELETE FROM customers WHERE id = 1`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	// WHEN: the database is scanned
	out, err := execute(t, testOptions(nil), "--db", db, "scan", "--format", "json")

	// THEN: the orphan is reported and the command fails
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var report retail.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "scan-cli-0001", report.ID)
	assert.Equal(t, []retail.Orphan{{SaleID: 1, Fields: []string{retail.FieldCustomerID}}}, report.Orphans)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", assert.AnError)))
	assert.ErrorIs(t, WrapExitError(ExitCommandError, "x", assert.AnError), assert.AnError)
}
