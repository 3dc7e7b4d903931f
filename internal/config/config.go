package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries everything one retrieval worker needs. Values are layered:
// compiled defaults, then an optional YAML file named by CONFIG_FILE, then
// environment variables.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// PostgresDSN is optional; without it chunk stats persist to the JSON
	// snapshot at StatsSnapshotPath instead.
	PostgresDSN string `yaml:"postgres_dsn"`

	NATSURL string `yaml:"nats_url"`

	OllamaURL        string  `yaml:"ollama_url"`
	OllamaGenModel   string  `yaml:"ollama_gen_model"`
	OllamaEmbedModel string  `yaml:"ollama_embed_model"`
	OllamaRateRPS    float64 `yaml:"ollama_rate_rps"`
	OllamaRateBurst  int     `yaml:"ollama_rate_burst"`

	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`

	OpsAddr string `yaml:"ops_addr"`

	StatsSnapshotPath string `yaml:"stats_snapshot_path"`
	FacetSnapshotPath string `yaml:"facet_snapshot_path"`

	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`
	CacheMaxEntries int `yaml:"cache_max_entries"`

	BranchCap            int `yaml:"branch_cap"`
	TotalLimit           int `yaml:"total_limit"`
	BroadLimit           int `yaml:"broad_limit"`
	FusionRRFK           int `yaml:"fusion_rrf_k"`
	SearchTimeoutSeconds int `yaml:"search_timeout_seconds"`

	MMRLambda    float64 `yaml:"mmr_lambda"`
	RerankTopK   int     `yaml:"rerank_top_k"`
	MemoryWeight float64 `yaml:"memory_weight"`

	MergeThreshold     float64 `yaml:"merge_threshold"`
	ClusterCap         int     `yaml:"cluster_cap"`
	DecayHalfLifeWeeks float64 `yaml:"decay_half_life_weeks"`

	// MemorySweepDays prunes chunk stats idle for this many days; 0 keeps
	// the sweep off.
	MemorySweepDays int `yaml:"memory_sweep_days"`

	// FacetFields pins the facet histogram fields; empty means discover
	// them from candidate metadata per request.
	FacetFields []string `yaml:"facet_fields"`

	BoostDateMatch    float64 `yaml:"boost_date_match"`
	BoostPartialDate  float64 `yaml:"boost_partial_date"`
	BoostDayOfWeek    float64 `yaml:"boost_day_of_week"`
	BoostTimeMatch    float64 `yaml:"boost_time_match"`
	BoostEntityMatch  float64 `yaml:"boost_entity_match"`
	BoostCompleteness float64 `yaml:"boost_completeness"`
}

func Default() Config {
	return Config{
		LogLevel: "info",

		NATSURL: "nats://localhost:4222",

		OllamaURL:        "http://localhost:11434",
		OllamaGenModel:   "llama3.1:8b",
		OllamaEmbedModel: "nomic-embed-text",
		OllamaRateRPS:    10,
		OllamaRateBurst:  10,

		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "chunks",

		OpsAddr: ":9090",

		StatsSnapshotPath: "./data/chunk_stats.json",

		CacheTTLMinutes: 60,
		CacheMaxEntries: 100,

		BranchCap:            3,
		TotalLimit:           40,
		BroadLimit:           50,
		FusionRRFK:           60,
		SearchTimeoutSeconds: 8,

		MMRLambda:    0.4,
		RerankTopK:   40,
		MemoryWeight: 0.3,

		MergeThreshold:     0.85,
		ClusterCap:         5,
		DecayHalfLifeWeeks: 6,

		BoostDateMatch:    1.5,
		BoostPartialDate:  1.2,
		BoostDayOfWeek:    2.5,
		BoostTimeMatch:    1.2,
		BoostEntityMatch:  1.3,
		BoostCompleteness: 0.1,
	}
}

func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyFile overlays the YAML document onto the current values. Keys absent
// from the document keep whatever was already set.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = mustEnv("LOG_LEVEL", c.LogLevel)

	c.PostgresDSN = mustEnv("POSTGRES_DSN", c.PostgresDSN)

	c.NATSURL = mustEnv("NATS_URL", c.NATSURL)

	c.OllamaURL = mustEnv("OLLAMA_URL", c.OllamaURL)
	c.OllamaGenModel = mustEnv("OLLAMA_GEN_MODEL", c.OllamaGenModel)
	c.OllamaEmbedModel = mustEnv("OLLAMA_EMBED_MODEL", c.OllamaEmbedModel)
	c.OllamaRateRPS = mustEnvFloat("OLLAMA_RATE_RPS", c.OllamaRateRPS)
	c.OllamaRateBurst = mustEnvInt("OLLAMA_RATE_BURST", c.OllamaRateBurst)

	c.QdrantURL = mustEnv("QDRANT_URL", c.QdrantURL)
	c.QdrantCollection = mustEnv("QDRANT_COLLECTION", c.QdrantCollection)

	c.OpsAddr = mustEnv("OPS_ADDR", c.OpsAddr)

	c.StatsSnapshotPath = mustEnv("STATS_SNAPSHOT_PATH", c.StatsSnapshotPath)
	c.FacetSnapshotPath = mustEnv("FACET_SNAPSHOT_PATH", c.FacetSnapshotPath)

	c.CacheTTLMinutes = mustEnvInt("CACHE_TTL_MINUTES", c.CacheTTLMinutes)
	c.CacheMaxEntries = mustEnvInt("CACHE_MAX_ENTRIES", c.CacheMaxEntries)

	c.BranchCap = mustEnvInt("BRANCH_CAP", c.BranchCap)
	c.TotalLimit = mustEnvInt("TOTAL_LIMIT", c.TotalLimit)
	c.BroadLimit = mustEnvInt("BROAD_LIMIT", c.BroadLimit)
	c.FusionRRFK = mustEnvInt("FUSION_RRF_K", c.FusionRRFK)
	c.SearchTimeoutSeconds = mustEnvInt("SEARCH_TIMEOUT_SECONDS", c.SearchTimeoutSeconds)

	c.MMRLambda = mustEnvFloat("MMR_LAMBDA", c.MMRLambda)
	c.RerankTopK = mustEnvInt("RERANK_TOP_K", c.RerankTopK)
	c.MemoryWeight = mustEnvFloat("MEMORY_WEIGHT", c.MemoryWeight)

	c.MergeThreshold = mustEnvFloat("MERGE_THRESHOLD", c.MergeThreshold)
	c.ClusterCap = mustEnvInt("CLUSTER_CAP", c.ClusterCap)
	c.DecayHalfLifeWeeks = mustEnvFloat("DECAY_HALF_LIFE_WEEKS", c.DecayHalfLifeWeeks)
	c.MemorySweepDays = mustEnvInt("MEMORY_SWEEP_DAYS", c.MemorySweepDays)

	c.FacetFields = mustEnvList("FACET_FIELDS", c.FacetFields)

	c.BoostDateMatch = mustEnvFloat("BOOST_DATE_MATCH", c.BoostDateMatch)
	c.BoostPartialDate = mustEnvFloat("BOOST_PARTIAL_DATE", c.BoostPartialDate)
	c.BoostDayOfWeek = mustEnvFloat("BOOST_DAY_OF_WEEK", c.BoostDayOfWeek)
	c.BoostTimeMatch = mustEnvFloat("BOOST_TIME_MATCH", c.BoostTimeMatch)
	c.BoostEntityMatch = mustEnvFloat("BOOST_ENTITY_MATCH", c.BoostEntityMatch)
	c.BoostCompleteness = mustEnvFloat("BOOST_COMPLETENESS", c.BoostCompleteness)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
