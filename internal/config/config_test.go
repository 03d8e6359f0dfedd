package config

import (
	"os"
	"path/filepath"
	"testing"

	"OminisNode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
chain:
  rpc_endpoints: ["http://localhost:8545"]
  order_book_address: "0x0000000000000000000000000000000000000001"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), cfg.Indexer.ChunkSize)
	assert.Equal(t, "stall", cfg.Indexer.OnChunkFailure)
	assert.Equal(t, 5, cfg.CommitReveal.ConfirmAttempts)
	assert.Equal(t, int64(30), cfg.CommitReveal.MinRevealMarginSeconds)
	assert.Equal(t, int64(300), cfg.Oracle.TimeoutSeconds)
	assert.Equal(t, 100, cfg.Oracle.ReasonLimit)
	assert.Equal(t, "assume_correct", cfg.Oracle.InconclusivePolicy)
	assert.Equal(t, "solver", cfg.Oracle.BenefitOfDoubt)
	assert.True(t, cfg.SettleOnVerify())
	assert.True(t, cfg.AutoAccept())
}

func TestParseRejectsIncompleteChain(t *testing.T) {
	_, err := Parse([]byte(`chain: {order_book_address: "0x01"}`))
	assert.EqualError(t, err, "chain.rpc_endpoints is required")

	_, err = Parse([]byte(`chain: {rpc_endpoints: ["http://a"]}`))
	assert.Error(t, err)
}

func TestParseRejectsUnknownPolicies(t *testing.T) {
	for _, extra := range []string{
		"indexer: {on_chunk_failure: sometimes}",
		"oracle: {inconclusive_policy: maybe}",
		"oracle: {benefit_of_doubt: nobody}",
		"solver: {problem_types: [GEOMETRY]}",
	} {
		_, err := Parse([]byte(minimal + extra))
		assert.Error(t, err, extra)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "http://a:8545, http://b:8545,")
	t.Setenv("SOLVER_MAX_CONCURRENT", "7")
	t.Setenv("SOLVER_AUTO_ACCEPT", "false")
	t.Setenv("SOLVER_PROBLEM_TYPES", "derivative,LIMIT")
	t.Setenv("INDEXER_CHUNK_SIZE", "not-a-number")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.Chain.RPCEndpoints)
	assert.Equal(t, 7, cfg.Solver.MaxConcurrent)
	assert.False(t, cfg.AutoAccept())
	assert.Equal(t, uint64(1000), cfg.Indexer.ChunkSize, "invalid value keeps the default")

	types, err := cfg.ProblemTypes()
	require.NoError(t, err)
	assert.Equal(t, map[models.ProblemType]bool{models.ProblemDerivative: true, models.ProblemLimit: true}, types)
}

func TestRoleValidation(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.EqualError(t, cfg.ValidateIndexer(), "server.addr is required")
	cfg.Server.Addr = ":8080"
	cfg.DB.DSN = "postgres://localhost/ominis"
	assert.NoError(t, cfg.ValidateIndexer())

	assert.Error(t, cfg.ValidateSolver())
	cfg.LLM.BaseURL = "http://localhost:1234"
	cfg.Problems.URL = "http://localhost:5000"
	assert.EqualError(t, cfg.ValidateSolver(), "signer.private_key or signer.xprv is required")
	cfg.Signer.PrivateKey = "0xabc"
	assert.NoError(t, cfg.ValidateSolver())

	assert.EqualError(t, cfg.ValidateOracle(), "chain.verifier_address is required for the oracle")
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8545"}, cfg.Chain.RPCEndpoints)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
