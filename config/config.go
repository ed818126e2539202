package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tradeup/native/tradeup"
)

// Chain holds the immutable trade-up chain parameters. They are fixed for the
// lifetime of the escrow; there is no governance over them after creation.
type Chain struct {
	StartClass    string `toml:"StartClass"`
	StartAssetID  string `toml:"StartAssetID"`
	FinalClass    string `toml:"FinalClass"`
	FinalAssetID  string `toml:"FinalAssetID"`
	ExpiresAt     int64  `toml:"ExpiresAt"`
	TTLSeconds    int64  `toml:"TTLSeconds"`
	EscrowAddress string `toml:"EscrowAddress"`
	MintingEnable bool   `toml:"MintingEnable"`
}

// Eth configures the ERC-721 custody adapter and the optional mint contract.
type Eth struct {
	Endpoint       string `toml:"Endpoint"`
	KeyEnv         string `toml:"KeyEnv"`
	MinterContract string `toml:"MinterContract"`
}

type Config struct {
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	NetworkName   string `toml:"NetworkName"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	Chain         Chain  `toml:"chain"`
	Eth           Eth    `toml:"eth"`
}

// Load loads the configuration from the given path, writing a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8646"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "tradeup-local"
	}
	if cfg.Chain.ExpiresAt == 0 {
		if cfg.Chain.TTLSeconds <= 0 {
			return nil, fmt.Errorf("config: either chain.ExpiresAt or chain.TTLSeconds is required")
		}
		cfg.Chain.ExpiresAt = time.Now().Unix() + cfg.Chain.TTLSeconds
	}
	if strings.TrimSpace(cfg.Eth.KeyEnv) == "" {
		cfg.Eth.KeyEnv = "TRADEUP_ETH_KEY"
	}

	return cfg, nil
}

// ChainParams converts the configured chain section into engine parameters. A
// FinalAssetID of "*" selects the wildcard sentinel.
func (c *Config) ChainParams() (tradeup.ChainParams, error) {
	startClass, err := parseAddress(c.Chain.StartClass)
	if err != nil {
		return tradeup.ChainParams{}, fmt.Errorf("config: chain.StartClass: %w", err)
	}
	startID, err := parseAssetID(c.Chain.StartAssetID, false)
	if err != nil {
		return tradeup.ChainParams{}, fmt.Errorf("config: chain.StartAssetID: %w", err)
	}
	finalClass, err := parseAddress(c.Chain.FinalClass)
	if err != nil {
		return tradeup.ChainParams{}, fmt.Errorf("config: chain.FinalClass: %w", err)
	}
	finalID, err := parseAssetID(c.Chain.FinalAssetID, true)
	if err != nil {
		return tradeup.ChainParams{}, fmt.Errorf("config: chain.FinalAssetID: %w", err)
	}
	return tradeup.SanitizeParams(tradeup.ChainParams{
		Start:     tradeup.AssetSpec{Class: startClass, ID: startID},
		Final:     tradeup.AssetSpec{Class: finalClass, ID: finalID},
		ExpiresAt: c.Chain.ExpiresAt,
	})
}

// EscrowAddress parses the configured escrow identity.
func (c *Config) EscrowAddress() ([20]byte, error) {
	return parseAddress(c.Chain.EscrowAddress)
}

// MinterContract parses the optional mint contract address. The boolean
// reports whether minting is configured at all.
func (c *Config) MinterContract() ([20]byte, bool, error) {
	if !c.Chain.MintingEnable || strings.TrimSpace(c.Eth.MinterContract) == "" {
		return [20]byte{}, false, nil
	}
	addr, err := parseAddress(c.Eth.MinterContract)
	if err != nil {
		return [20]byte{}, false, fmt.Errorf("config: eth.MinterContract: %w", err)
	}
	return addr, true, nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("malformed address %q", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address %q must be 20 bytes", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAssetID(value string, allowWildcard bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "*" {
		if !allowWildcard {
			return nil, fmt.Errorf("wildcard not allowed here")
		}
		return tradeup.WildcardAssetID(), nil
	}
	id, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("malformed asset id %q", value)
	}
	return id, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  "127.0.0.1:8646",
		DataDir:     "./data",
		NetworkName: "tradeup-local",
		Chain: Chain{
			StartAssetID: "1",
			FinalAssetID: "*",
			TTLSeconds:   7 * 24 * 60 * 60,
		},
		Eth: Eth{
			Endpoint: "http://127.0.0.1:8545",
			KeyEnv:   "TRADEUP_ETH_KEY",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.Chain.ExpiresAt = time.Now().Unix() + cfg.Chain.TTLSeconds
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
