package proofflow_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pf "github.com/proofflow/proofflow"
)

const contractsYAML = `
contracts:
  payments: "0x0000000000000000000000000000000000000001"
  warm_storage: "0x0000000000000000000000000000000000000002"
  warm_storage_view: "0x0000000000000000000000000000000000000003"
  pdp_verifier: "0x0000000000000000000000000000000000000004"
  usdfc: "0x0000000000000000000000000000000000000005"
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := pf.ParseConfig([]byte(contractsYAML))
	require.NoError(t, err)

	assert.Equal(t, "calibration", cfg.Network)
	assert.Equal(t, pf.Networks["calibration"].RPCURL, cfg.RPCURL)
	assert.Equal(t, int64(314159), cfg.ChainID())
	assert.Equal(t, pf.DefaultStorageConfig(), cfg.Storage)
	assert.Equal(t, pf.DefaultWatchTimeout, cfg.Watchdog.Timeout)
	assert.Equal(t, pf.DefaultPollInterval, cfg.Watchdog.PollInterval)
	assert.Equal(t, "memory", cfg.Pieces.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseConfig_Overrides(t *testing.T) {
	yml := contractsYAML + `
network: mainnet
rpc_url: https://rpc.example.org
storage:
  with_cdn: false
  min_days_threshold: 3
  persistence_period_days: 30
  max_lockup_period_days: 30
  max_daily_deposit: "5000000000000000000"
watchdog:
  timeout: 2m
  poll_interval: 10s
pieces:
  backend: redis
  redis_addr: localhost:6379
log:
  level: debug
  format: json
metrics:
  addr: ":9090"
`
	cfg, err := pf.ParseConfig([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, int64(314), cfg.ChainID())
	assert.Equal(t, "https://rpc.example.org", cfg.RPCURL)
	assert.False(t, cfg.Storage.WithCDN)
	assert.Equal(t, int64(3), cfg.Storage.MinDaysThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Watchdog.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.Pieces.RedisAddr)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	limit, err := cfg.Storage.DailyDepositCap()
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000000", limit.String())
}

func TestParseConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("PROOFFLOW_TEST_KEY", "key-from-env")
	t.Setenv("PROOFFLOW_TEST_TOKEN", "s3cret")

	cfg, err := pf.ParseConfig([]byte(contractsYAML + `
private_key: ${PROOFFLOW_TEST_KEY}
rpc_token: ${PROOFFLOW_TEST_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.PrivateKey)
	assert.Equal(t, "s3cret", cfg.RPCToken)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown network":     contractsYAML + "network: moonnet\n",
		"missing contract":    "network: calibration\n",
		"bad address":         `contracts: {payments: "nope", warm_storage: "0x0000000000000000000000000000000000000002", warm_storage_view: "0x0000000000000000000000000000000000000003", pdp_verifier: "0x0000000000000000000000000000000000000004", usdfc: "0x0000000000000000000000000000000000000005"}`,
		"negative threshold":  contractsYAML + "storage: {min_days_threshold: -1, persistence_period_days: 7, max_lockup_period_days: 30}\n",
		"zero persistence":    contractsYAML + "storage: {persistence_period_days: 0, max_lockup_period_days: 30}\n",
		"bad deposit cap":     contractsYAML + "storage: {persistence_period_days: 7, max_lockup_period_days: 30, max_daily_deposit: \"1.5\"}\n",
		"zero watch timeout":  contractsYAML + "watchdog: {timeout: 0s}\n",
		"redis without addr":  contractsYAML + "pieces: {backend: redis}\n",
		"pg without dsn":      contractsYAML + "pieces: {backend: postgres}\n",
		"unknown backend":     contractsYAML + "pieces: {backend: sqlite}\n",
		"unknown log format":  contractsYAML + "log: {format: xml}\n",
		"malformed yaml":      "contracts: [\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pf.ParseConfig([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proofflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contractsYAML+"pieces: {backend: postgres, postgres_dsn: postgres://localhost/proofflow}\n"), 0o600))

	cfg, err := pf.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Pieces.Backend)

	_, err = pf.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStorageConfig_DailyDepositCap(t *testing.T) {
	s := pf.DefaultStorageConfig()
	v, err := s.DailyDepositCap()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	s.MaxDailyDeposit = "-1"
	_, err = s.DailyDepositCap()
	assert.Error(t, err)
}
