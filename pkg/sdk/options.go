package meinrag

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "memory", "valkey" or "redis"
	addrs    []string
	password string

	embedder         Embedder
	queryInstruction string

	vectorDimensions int
	hnswM            int
	hnswEFConstruct  int
	overfetchFactor  int
	maxScanPassages  int
	keyPrefix        string

	defaultTopK     int
	hybridEnabled   bool
	lexicalWeight   float64
	fetchMultiplier int
	rrfOffset       int
	bm25K1          float64
	bm25B           float64

	judge        Judge
	rerankMult   int
	rerankWindow time.Duration

	logger *zap.Logger
}

// WithValkey configures the client to connect to a Valkey instance with the
// search module. The default is an in-process index.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to connect to a Redis instance with
// RediSearch. The default is an in-process index.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithEmbedder sets the text embedding provider. Required.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithQueryInstruction prepends instruction text to queries before
// embedding. Documents are always embedded raw.
func WithQueryInstruction(instruction string) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryInstruction = instruction
	})
}

// WithVectorDimensions sets the expected embedding dimension.
// Ingestion rejects passages whose vectors differ.
func WithVectorDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.vectorDimensions = dim
	})
}

// WithHNSW configures HNSW index parameters for the RediSearch backend.
// Defaults: M=32, EFConstruct=400.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithOverfetchFactor sets the candidate multiplier used when the backend
// cannot filter natively. Default: 5.
func WithOverfetchFactor(factor int) Option {
	return optionFunc(func(c *clientConfig) {
		c.overfetchFactor = factor
	})
}

// WithMaxScanPassages bounds lexical index rebuilds. Retrieval over a
// larger filtered corpus fails with ErrCorpusTooLarge. Default: 50000.
func WithMaxScanPassages(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxScanPassages = n
	})
}

// WithKeyPrefix namespaces all keys in the shared store. Default: "meinrag:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithDefaultTopK sets the result count used when a request leaves TopK zero.
// Default: 4.
func WithDefaultTopK(k int) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultTopK = k
	})
}

// WithHybrid enables vector+lexical fusion by default. weight is the lexical
// share of the fused score, between 0 and 1.
func WithHybrid(weight float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.hybridEnabled = true
		c.lexicalWeight = weight
	})
}

// WithBM25 overrides the lexical scoring parameters. Defaults: k1=1.5, b=0.75.
func WithBM25(k1, b float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.bm25K1 = k1
		c.bm25B = b
	})
}

// WithReranker enables LLM re-ranking by default. The judge sees
// multiplier*TopK first-stage candidates and must answer within timeout;
// on failure retrieval falls back to the first-stage order.
func WithReranker(j Judge, multiplier int, timeout time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.judge = j
		c.rerankMult = multiplier
		c.rerankWindow = timeout
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
