package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

// Domain is the EIP-712 domain orders and cancels are signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

func (d Domain) EIP712() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           big.NewInt(d.ChainID),
		VerifyingContract: d.VerifyingContract,
	}
}

type Matching struct {
	MaxRingHops       int
	MaxRingCandidates int
	MaxRingRounds     int
	CustodyTimeout    time.Duration
	// DirectMatch settles crossing mirrored orders on insertion. Off, they
	// rest until an operator matches them.
	DirectMatch bool
}

type Node struct {
	DataDir      string // empty keeps all state in memory
	LogFile      string
	LogLevel     string
	APIAddr      string
	CORSOrigins  []string
	AdminEnabled bool
	// VerifierCacheSize bounds the LRU of verified order signatures.
	VerifierCacheSize int
}

type Events struct {
	RetryMax   uint64
	QueueLimit int
}

type Kafka struct {
	Brokers []string // empty disables the Kafka sink
	Topic   string
}

type P2P struct {
	Listen    string // empty disables gossip
	Bootstrap []string
	Topic     string
}

type Config struct {
	Domain   Domain
	Matching Matching
	Node     Node
	Events   Events
	Kafka    Kafka
	P2P      P2P

	// Assets from ASSETS ("SC=0x..,DC=0x..").
	Assets []asset.Asset
	// AssetsFile is an optional TOML file; see LoadAssetsFile.
	AssetsFile string
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:    "SmashDEX",
			Version: "1",
			ChainID: 31337, // local dev chain
		},
		Matching: Matching{
			MaxRingHops:       5,
			MaxRingCandidates: 32,
			MaxRingRounds:     16,
			CustodyTimeout:    5 * time.Second,
		},
		Node: Node{
			DataDir:           "data",
			LogFile:           "data/node.log",
			LogLevel:          "info",
			APIAddr:           ":8080",
			AdminEnabled:      false,
			VerifierCacheSize: 4096,
		},
		Events: Events{
			RetryMax:   5,
			QueueLimit: 100_000,
		},
		Kafka: Kafka{Topic: "smashdex-events"},
		P2P:   P2P{Topic: "smashdex-events"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Signing domain
	cfg.Domain.Name = getEnv("DOMAIN_NAME", cfg.Domain.Name)
	cfg.Domain.Version = getEnv("DOMAIN_VERSION", cfg.Domain.Version)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Domain.ChainID = n
		}
	}
	if vc := os.Getenv("VERIFYING_CONTRACT"); vc != "" {
		if !common.IsHexAddress(vc) {
			return cfg, fmt.Errorf("VERIFYING_CONTRACT: invalid address %q", vc)
		}
		cfg.Domain.VerifyingContract = common.HexToAddress(vc)
	}

	// Matching bounds
	envInt("MAX_RING_HOPS", &cfg.Matching.MaxRingHops)
	envInt("MAX_RING_CANDIDATES", &cfg.Matching.MaxRingCandidates)
	envInt("MAX_RING_ROUNDS", &cfg.Matching.MaxRingRounds)
	if ms := os.Getenv("CUSTODY_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.Matching.CustodyTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if direct := os.Getenv("DIRECT_MATCH"); direct != "" {
		cfg.Matching.DirectMatch = direct == "true"
	}

	// Node
	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Node.DataDir = dir
	}
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}
	if admin := os.Getenv("ADMIN_ENABLED"); admin != "" {
		cfg.Node.AdminEnabled = admin == "true"
	}
	envInt("VERIFIER_CACHE_SIZE", &cfg.Node.VerifierCacheSize)

	// Event delivery
	if n := os.Getenv("EVENT_RETRY_MAX"); n != "" {
		if v, err := strconv.ParseUint(n, 10, 64); err == nil {
			cfg.Events.RetryMax = v
		}
	}
	envInt("EVENT_QUEUE_LIMIT", &cfg.Events.QueueLimit)

	// Sinks
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if boot := os.Getenv("P2P_BOOTSTRAP"); boot != "" {
		cfg.P2P.Bootstrap = splitList(boot)
	}
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)

	// Assets
	if list := os.Getenv("ASSETS"); list != "" {
		assets, err := ParseAssets(list)
		if err != nil {
			return cfg, fmt.Errorf("ASSETS: %w", err)
		}
		cfg.Assets = assets
	}
	cfg.AssetsFile = getEnv("ASSETS_FILE", cfg.AssetsFile)

	return cfg, nil
}

// ParseAssets parses a comma-separated list of SYMBOL=0xaddress entries.
func ParseAssets(list string) ([]asset.Asset, error) {
	var out []asset.Asset
	for _, entry := range splitList(list) {
		sym, addr, ok := strings.Cut(entry, "=")
		sym, addr = strings.TrimSpace(sym), strings.TrimSpace(addr)
		if !ok || sym == "" || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid entry %q, want SYMBOL=0xaddress", entry)
		}
		out = append(out, asset.Asset{Symbol: sym, Token: common.HexToAddress(addr)})
	}
	return out, nil
}

// AssetsFile declares assets, BLS public keys and dev custody balances.
//
//	[[assets]]
//	symbol = "SC"
//	token  = "0x0000000000000000000000000000000000000101"
//
//	[[bls_keys]]
//	address = "0x..."
//	pubkey  = "0x..."
//
//	[[balances]]
//	address   = "0x..."
//	symbol    = "SC"
//	amount    = "1000000000000000000000"
//	allowance = "1000000000000000000000"
type AssetsFile struct {
	Assets   []asset.Asset `toml:"assets"`
	BLSKeys  []BLSKey      `toml:"bls_keys"`
	Balances []Balance     `toml:"balances"`
}

type BLSKey struct {
	Address common.Address `toml:"address"`
	PubKey  string         `toml:"pubkey"` // hex, compressed G1
}

// Balance is an initial custody position. An empty Allowance approves the
// whole amount.
type Balance struct {
	Address   common.Address `toml:"address"`
	Symbol    string         `toml:"symbol"`
	Amount    string         `toml:"amount"`
	Allowance string         `toml:"allowance"`
}

func (b Balance) Amounts() (amount, allowance *big.Int, err error) {
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("balance %s/%s: invalid amount %q", b.Address.Hex(), b.Symbol, b.Amount)
	}
	if b.Allowance == "" {
		return amount, new(big.Int).Set(amount), nil
	}
	allowance, ok = new(big.Int).SetString(b.Allowance, 10)
	if !ok || allowance.Sign() < 0 {
		return nil, nil, fmt.Errorf("balance %s/%s: invalid allowance %q", b.Address.Hex(), b.Symbol, b.Allowance)
	}
	return amount, allowance, nil
}

// LoadAssetsFile decodes path and rejects unknown keys.
func LoadAssetsFile(path string) (*AssetsFile, error) {
	var f AssetsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("assets file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("assets file %s: unknown keys %v", path, undecoded)
	}
	return &f, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
