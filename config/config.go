package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the node level settings for the commitment service.
// Amount fields are decimal strings so operators can express values that
// exceed int64.
type Config struct {
	ListenAddress      string   `toml:"ListenAddress"`
	DataDir            string   `toml:"DataDir"`
	AdminAddress       string   `toml:"AdminAddress"`
	ProtocolFeeAddress string   `toml:"ProtocolFeeAddress"`
	VaultAddress       string   `toml:"VaultAddress"`
	ProtocolShareBps   uint32   `toml:"ProtocolShareBps"`
	CreateFee          string   `toml:"CreateFee"`
	JoinFee            string   `toml:"JoinFee"`
	AllowedTokens      []string `toml:"AllowedTokens"`
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst     int      `toml:"RateLimitBurst"`
	LogLevel           string   `toml:"LogLevel"`
}

const (
	defaultListenAddress = "0.0.0.0:8571"
	defaultDataDir       = "./commit-data"
	defaultRateLimit     = 25.0
	defaultRateBurst     = 50
	defaultLogLevel      = "info"
)

// Load reads the configuration at path, creating a default file when none
// exists yet, then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.CreateFee == "" {
		c.CreateFee = "0"
	}
	if c.JoinFee == "" {
		c.JoinFee = "0"
	}
	if c.AllowedTokens == nil {
		c.AllowedTokens = []string{}
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = defaultRateLimit
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateBurst
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate verifies every operator supplied field parses and is inside
// protocol bounds.
func (c *Config) Validate() error {
	if _, err := ParseAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(c.ProtocolFeeAddress); err != nil {
		return fmt.Errorf("config: ProtocolFeeAddress: %w", err)
	}
	if _, err := ParseAddress(c.VaultAddress); err != nil {
		return fmt.Errorf("config: VaultAddress: %w", err)
	}
	if c.ProtocolShareBps > 10_000 {
		return fmt.Errorf("config: ProtocolShareBps %d exceeds 10000", c.ProtocolShareBps)
	}
	if _, err := parseAmount(c.CreateFee); err != nil {
		return fmt.Errorf("config: CreateFee: %w", err)
	}
	if _, err := parseAmount(c.JoinFee); err != nil {
		return fmt.Errorf("config: JoinFee: %w", err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	return nil
}

// Admin returns the parsed admin address. Validate must have passed.
func (c *Config) Admin() [20]byte {
	addr, _ := ParseAddress(c.AdminAddress)
	return addr
}

// ProtocolFee returns the parsed protocol fee recipient address.
func (c *Config) ProtocolFee() [20]byte {
	addr, _ := ParseAddress(c.ProtocolFeeAddress)
	return addr
}

// Vault returns the parsed escrow vault address.
func (c *Config) Vault() [20]byte {
	addr, _ := ParseAddress(c.VaultAddress)
	return addr
}

// CreateFeeAmount returns the flat creation fee as a big integer.
func (c *Config) CreateFeeAmount() *big.Int {
	amount, _ := parseAmount(c.CreateFee)
	return amount
}

// JoinFeeAmount returns the flat join fee as a big integer.
func (c *Config) JoinFeeAmount() *big.Int {
	amount, _ := parseAmount(c.JoinFee)
	return amount
}

// ParseAddress decodes a 0x-prefixed 20 byte hex address.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("expected 20 byte hex address, got %q", raw)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address %q: %w", raw, err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be non-negative", raw)
	}
	return amount, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:      defaultListenAddress,
		DataDir:            defaultDataDir,
		AdminAddress:       "0x" + strings.Repeat("00", 20),
		ProtocolFeeAddress: "0x" + strings.Repeat("00", 20),
		VaultAddress:       "0x" + strings.Repeat("00", 20),
		ProtocolShareBps:   100,
		CreateFee:          "0",
		JoinFee:            "0",
		AllowedTokens:      []string{},
		RateLimitPerSecond: defaultRateLimit,
		RateLimitBurst:     defaultRateBurst,
		LogLevel:           defaultLogLevel,
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
