package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"OminisNode/internal/indexer"
	"OminisNode/internal/models"
	"OminisNode/internal/verify"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Redis struct {
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		TTLSeconds int64  `yaml:"ttl_seconds"`
	} `yaml:"redis"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
	Chain struct {
		ChainID               int64    `yaml:"chain_id"`
		RPCEndpoints          []string `yaml:"rpc_endpoints"`
		WSEndpoints           []string `yaml:"ws_endpoints"`
		CoreAddress           string   `yaml:"core_address"`
		OrderBookAddress      string   `yaml:"order_book_address"`
		VerifierAddress       string   `yaml:"verifier_address"`
		ReceiptTimeoutSeconds int64    `yaml:"receipt_timeout_seconds"`
		GasLimit              uint64   `yaml:"gas_limit"`
		RPCFailoverThreshold  int      `yaml:"rpc_failover_threshold"`
	} `yaml:"chain"`
	Signer struct {
		PrivateKey string `yaml:"private_key"`
		XPrv       string `yaml:"xprv"`
		Index      uint32 `yaml:"index"`
	} `yaml:"signer"`
	Indexer struct {
		StartHeight     uint64  `yaml:"start_height"`
		ChunkSize       uint64  `yaml:"chunk_size"`
		IntervalSeconds int64   `yaml:"interval_seconds"`
		ConfirmDepth    uint64  `yaml:"confirm_depth"`
		OnChunkFailure  string  `yaml:"on_chunk_failure"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		SyncTolerance   uint64  `yaml:"sync_tolerance"`
	} `yaml:"indexer"`
	CommitReveal struct {
		ConfirmAttempts        int   `yaml:"confirm_attempts"`
		ConfirmDelaySeconds    int64 `yaml:"confirm_delay_seconds"`
		SettleSeconds          int64 `yaml:"settle_seconds"`
		MinRevealMarginSeconds int64 `yaml:"min_reveal_margin_seconds"`
	} `yaml:"commit_reveal"`
	Oracle struct {
		IntervalSeconds    int64  `yaml:"interval_seconds"`
		TimeoutSeconds     int64  `yaml:"timeout_seconds"`
		BatchSize          uint64 `yaml:"batch_size"`
		ReasonLimit        int    `yaml:"reason_limit"`
		InconclusivePolicy string `yaml:"inconclusive_policy"`
		BenefitOfDoubt     string `yaml:"benefit_of_doubt"`
		SettleOnVerify     *bool  `yaml:"settle_on_verify"`
		AnalyticURL        string `yaml:"analytic_url"`
	} `yaml:"oracle"`
	Solver struct {
		IntervalSeconds         int64    `yaml:"interval_seconds"`
		MaxConcurrent           int      `yaml:"max_concurrent"`
		MinTimeRemainingSeconds int64    `yaml:"min_time_remaining_seconds"`
		SequenceTimeoutSeconds  int64    `yaml:"sequence_timeout_seconds"`
		AutoAccept              *bool    `yaml:"auto_accept"`
		ProblemTypes            []string `yaml:"problem_types"`
	} `yaml:"solver"`
	Problems struct {
		URL string `yaml:"url"`
	} `yaml:"problems"`
	LLM struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		Model           string `yaml:"model"`
		TimeoutSeconds  int64  `yaml:"timeout_seconds"`
		MaxFailures     int    `yaml:"max_failures"`
		CooldownSeconds int64  `yaml:"cooldown_seconds"`
	} `yaml:"llm"`
}

// Load reads the YAML file, then .env and the process environment, fills
// defaults and checks the settings every binary needs.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if len(cfg.Chain.RPCEndpoints) == 0 {
		return nil, errors.New("chain.rpc_endpoints is required")
	}
	if cfg.Chain.CoreAddress == "" && cfg.Chain.OrderBookAddress == "" && cfg.Chain.VerifierAddress == "" {
		return nil, errors.New("chain config needs at least one contract address")
	}
	if _, err := indexer.ParseChunkPolicy(cfg.Indexer.OnChunkFailure); err != nil {
		return nil, err
	}
	if _, err := verify.ParseInconclusivePolicy(cfg.Oracle.InconclusivePolicy); err != nil {
		return nil, err
	}
	if _, err := verify.ParseBenefitOfDoubt(cfg.Oracle.BenefitOfDoubt); err != nil {
		return nil, err
	}
	if _, err := cfg.ProblemTypes(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateIndexer checks what cmd/indexer needs on top of Load.
func (c *Config) ValidateIndexer() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	return nil
}

func (c *Config) ValidateOracle() error {
	if c.Chain.VerifierAddress == "" {
		return errors.New("chain.verifier_address is required for the oracle")
	}
	if c.Oracle.AnalyticURL == "" && c.LLM.BaseURL == "" {
		return errors.New("oracle needs oracle.analytic_url or llm.base_url")
	}
	return c.validateSigner()
}

func (c *Config) ValidateSolver() error {
	if c.Chain.OrderBookAddress == "" {
		return errors.New("chain.order_book_address is required for the solver")
	}
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required for the solver")
	}
	if c.Problems.URL == "" {
		return errors.New("problems.url is required for the solver")
	}
	return c.validateSigner()
}

func (c *Config) validateSigner() error {
	if c.Signer.PrivateKey == "" && c.Signer.XPrv == "" {
		return errors.New("signer.private_key or signer.xprv is required")
	}
	return nil
}

// ProblemTypes is the solver's accepted set; nil accepts every type.
func (c *Config) ProblemTypes() (map[models.ProblemType]bool, error) {
	if len(c.Solver.ProblemTypes) == 0 {
		return nil, nil
	}
	out := make(map[models.ProblemType]bool, len(c.Solver.ProblemTypes))
	for _, v := range c.Solver.ProblemTypes {
		pt, err := models.ParseProblemType(v)
		if err != nil {
			return nil, fmt.Errorf("solver.problem_types: %w", err)
		}
		out[pt] = true
	}
	return out, nil
}

func (c *Config) SettleOnVerify() bool {
	return c.Oracle.SettleOnVerify == nil || *c.Oracle.SettleOnVerify
}

func (c *Config) AutoAccept() bool {
	return c.Solver.AutoAccept == nil || *c.Solver.AutoAccept
}

// Seconds converts a seconds setting into a duration.
func Seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Redis.TTLSeconds == 0 {
		cfg.Redis.TTLSeconds = 5
	}
	if cfg.Chain.ReceiptTimeoutSeconds == 0 {
		cfg.Chain.ReceiptTimeoutSeconds = 120
	}
	if cfg.Chain.RPCFailoverThreshold == 0 {
		cfg.Chain.RPCFailoverThreshold = 3
	}
	if cfg.Indexer.ChunkSize == 0 {
		cfg.Indexer.ChunkSize = 1000
	}
	if cfg.Indexer.IntervalSeconds == 0 {
		cfg.Indexer.IntervalSeconds = 2
	}
	if cfg.Indexer.SyncTolerance == 0 {
		cfg.Indexer.SyncTolerance = 5
	}
	if cfg.Indexer.OnChunkFailure == "" {
		cfg.Indexer.OnChunkFailure = string(indexer.ChunkStall)
	}
	if cfg.CommitReveal.ConfirmAttempts == 0 {
		cfg.CommitReveal.ConfirmAttempts = 5
	}
	if cfg.CommitReveal.ConfirmDelaySeconds == 0 {
		cfg.CommitReveal.ConfirmDelaySeconds = 3
	}
	if cfg.CommitReveal.SettleSeconds == 0 {
		cfg.CommitReveal.SettleSeconds = 2
	}
	if cfg.CommitReveal.MinRevealMarginSeconds == 0 {
		cfg.CommitReveal.MinRevealMarginSeconds = 30
	}
	if cfg.Oracle.IntervalSeconds == 0 {
		cfg.Oracle.IntervalSeconds = 10
	}
	if cfg.Oracle.TimeoutSeconds == 0 {
		cfg.Oracle.TimeoutSeconds = 300
	}
	if cfg.Oracle.BatchSize == 0 {
		cfg.Oracle.BatchSize = 20
	}
	if cfg.Oracle.ReasonLimit == 0 {
		cfg.Oracle.ReasonLimit = 100
	}
	if cfg.Oracle.InconclusivePolicy == "" {
		cfg.Oracle.InconclusivePolicy = "assume_correct"
	}
	if cfg.Oracle.BenefitOfDoubt == "" {
		cfg.Oracle.BenefitOfDoubt = "solver"
	}
	if cfg.Solver.IntervalSeconds == 0 {
		cfg.Solver.IntervalSeconds = 10
	}
	if cfg.Solver.MaxConcurrent == 0 {
		cfg.Solver.MaxConcurrent = 3
	}
	if cfg.Solver.MinTimeRemainingSeconds == 0 {
		cfg.Solver.MinTimeRemainingSeconds = 60
	}
	if cfg.Solver.SequenceTimeoutSeconds == 0 {
		cfg.Solver.SequenceTimeoutSeconds = 300
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.MaxFailures == 0 {
		cfg.LLM.MaxFailures = 3
	}
	if cfg.LLM.CooldownSeconds == 0 {
		cfg.LLM.CooldownSeconds = 300
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitCommaList(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Metrics.Port = intOr(cfg.Metrics.Port, v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.Chain.ChainID = int64Or(cfg.Chain.ChainID, v)
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_ENDPOINTS"); v != "" {
		cfg.Chain.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("CORE_ADDRESS"); v != "" {
		cfg.Chain.CoreAddress = v
	}
	if v := os.Getenv("ORDER_BOOK_ADDRESS"); v != "" {
		cfg.Chain.OrderBookAddress = v
	}
	if v := os.Getenv("VERIFIER_ADDRESS"); v != "" {
		cfg.Chain.VerifierAddress = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Signer.PrivateKey = v
	}
	if v := os.Getenv("SIGNER_XPRV"); v != "" {
		cfg.Signer.XPrv = v
	}
	if v := os.Getenv("INDEXER_START_HEIGHT"); v != "" {
		cfg.Indexer.StartHeight = uint64Or(cfg.Indexer.StartHeight, v)
	}
	if v := os.Getenv("INDEXER_CHUNK_SIZE"); v != "" {
		cfg.Indexer.ChunkSize = uint64Or(cfg.Indexer.ChunkSize, v)
	}
	if v := os.Getenv("INDEXER_CONFIRM_DEPTH"); v != "" {
		cfg.Indexer.ConfirmDepth = uint64Or(cfg.Indexer.ConfirmDepth, v)
	}
	if v := os.Getenv("INDEXER_ON_CHUNK_FAILURE"); v != "" {
		cfg.Indexer.OnChunkFailure = v
	}
	if v := os.Getenv("ORACLE_INTERVAL_SECONDS"); v != "" {
		cfg.Oracle.IntervalSeconds = int64Or(cfg.Oracle.IntervalSeconds, v)
	}
	if v := os.Getenv("VERIFICATION_TIMEOUT"); v != "" {
		cfg.Oracle.TimeoutSeconds = int64Or(cfg.Oracle.TimeoutSeconds, v)
	}
	if v := os.Getenv("INCONCLUSIVE_POLICY"); v != "" {
		cfg.Oracle.InconclusivePolicy = v
	}
	if v := os.Getenv("BENEFIT_OF_DOUBT"); v != "" {
		cfg.Oracle.BenefitOfDoubt = v
	}
	if v := os.Getenv("ANALYTIC_URL"); v != "" {
		cfg.Oracle.AnalyticURL = v
	}
	if v := os.Getenv("SOLVER_MAX_CONCURRENT"); v != "" {
		cfg.Solver.MaxConcurrent = intOr(cfg.Solver.MaxConcurrent, v)
	}
	if v := os.Getenv("SOLVER_AUTO_ACCEPT"); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			cfg.Solver.AutoAccept = &b
		}
	}
	if v := os.Getenv("SOLVER_PROBLEM_TYPES"); v != "" {
		cfg.Solver.ProblemTypes = splitCommaList(v)
	}
	if v := os.Getenv("PROBLEMS_URL"); v != "" {
		cfg.Problems.URL = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func intOr(fallback int, v string) int {
	i, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

func int64Or(fallback int64, v string) int64 {
	i, err := cast.ToInt64E(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

func uint64Or(fallback uint64, v string) uint64 {
	i, err := cast.ToUint64E(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}
