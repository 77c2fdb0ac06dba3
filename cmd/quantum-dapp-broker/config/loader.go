package config

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

const EnvPrefix = "QDB"

type ServerSettings struct {
	LocalHost        string
	Port             string
	UIAllowedOrigins []string
	// SurfaceURL is where the confirmation UI is served; empty means this server.
	SurfaceURL string
	// UIDir is a built confirmation UI to serve at the root; empty serves none.
	UIDir   string
	PairTTL time.Duration
}

type StorageSettings struct {
	// Driver is file, postgres or memory.
	Driver      string
	Dir         string
	PostgresDSN string
}

type AccountEntry struct {
	Address string
	Name    string
}

type AccountsSettings struct {
	Evm       []AccountEntry
	Substrate []AccountEntry
	Focused   string
}

type SignerSettings struct {
	// DevKeys are hex private keys for local development only.
	DevKeys []string
}

type LivenessSettings struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
	CallTimeout  time.Duration
	ProbeTimeout time.Duration
	Retries      uint64
}

type RateLimitSettings struct {
	PerSecond float64
	Burst     int
}

type Config struct {
	Server  ServerSettings
	Storage StorageSettings
	Chains  []chains.Chain
	// a list, since domains contain the key delimiter
	SiteDefaults []chains.SiteDefault
	Accounts     AccountsSettings
	Signer       SignerSettings
	Liveness     LivenessSettings
	RateLimit    RateLimitSettings
}

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

func searchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".config", constants.AppName),
		filepath.Join(home, "config"),
		".",
	}
}

// Load reads the embedded defaults, merges the first config.yaml found in the
// search paths over them, then applies QDB_* environment overrides.
func Load() (*Config, error) {
	return load(searchPaths())
}

func load(paths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, errors.Wrap(err, "read embedded config")
	}

	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "merge user config")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the config in place and rejects what cannot run.
func (c *Config) Validate() error {
	c.Server.LocalHost = strings.TrimSpace(c.Server.LocalHost)
	if c.Server.LocalHost == "" {
		c.Server.LocalHost = "127.0.0.1"
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("Server.Port is required")
	}
	if c.Server.UIDir = strings.TrimSpace(c.Server.UIDir); c.Server.UIDir != "" {
		st, err := os.Stat(c.Server.UIDir)
		if err != nil {
			return errors.Wrap(err, "Server.UIDir")
		}
		if !st.IsDir() {
			return errors.Newf("Server.UIDir %q is not a directory", c.Server.UIDir)
		}
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = StorageFile
	case StorageFile, StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("Storage.PostgresDSN is required for the postgres driver")
		}
	default:
		return errors.Newf("invalid Storage.Driver %q (allowed: file, postgres, memory)", c.Storage.Driver)
	}

	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	keys := make(map[string]struct{}, len(c.Chains))
	for i := range c.Chains {
		ch := &c.Chains[i]
		ch.Key = strings.ToLower(strings.TrimSpace(ch.Key))
		if ch.Key == "" {
			return errors.Newf("Chains[%d] has empty key", i)
		}
		if _, dup := keys[ch.Key]; dup {
			return errors.Newf("duplicate chain key %q", ch.Key)
		}
		keys[ch.Key] = struct{}{}
		if ch.Kind != accounts.KindEvm && ch.Kind != accounts.KindSubstrate {
			return errors.Newf("chain %q: kind must be evm or substrate", ch.Key)
		}
	}

	for i := range c.SiteDefaults {
		d := &c.SiteDefaults[i]
		d.Domain = strings.ToLower(strings.TrimSpace(d.Domain))
		d.Chain = strings.ToLower(strings.TrimSpace(d.Chain))
		if d.Domain == "" {
			return errors.Newf("SiteDefaults[%d] has empty domain", i)
		}
		if _, ok := keys[d.Chain]; !ok {
			return errors.Newf("SiteDefaults[%s] names unknown chain %q", d.Domain, d.Chain)
		}
	}

	if err := checkAccounts("Accounts.Evm", c.Accounts.Evm, accounts.KindEvm); err != nil {
		return err
	}
	if err := checkAccounts("Accounts.Substrate", c.Accounts.Substrate, accounts.KindSubstrate); err != nil {
		return err
	}
	if c.Accounts.Focused != "" && accounts.KindOf(c.Accounts.Focused) == accounts.KindUnknown {
		return errors.Newf("Accounts.Focused %q is not an address", c.Accounts.Focused)
	}

	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("RateLimit values must not be negative")
	}
	return nil
}

func checkAccounts(field string, list []AccountEntry, kind accounts.Kind) error {
	for i, a := range list {
		a.Address = strings.TrimSpace(a.Address)
		if got := accounts.KindOf(a.Address); got != kind {
			return errors.Newf("%s[%d]: %q is not a %s address", field, i, a.Address, kind)
		}
		list[i] = a
	}
	return nil
}

// WalletAccounts is the account list in wallet order: EVM first, then Substrate.
func (c *Config) WalletAccounts() []accounts.Account {
	out := make([]accounts.Account, 0, len(c.Accounts.Evm)+len(c.Accounts.Substrate))
	for _, a := range c.Accounts.Evm {
		out = append(out, accounts.Account{Address: a.Address, Kind: accounts.KindEvm, Name: a.Name})
	}
	for _, a := range c.Accounts.Substrate {
		out = append(out, accounts.Account{Address: a.Address, Kind: accounts.KindSubstrate, Name: a.Name})
	}
	return out
}
