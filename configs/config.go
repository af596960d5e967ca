package config

import (
	"fmt"
	"strings"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Prettify bool   `mapstructure:"prettify"`
}

type RPCEndpointConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type RPCConfig struct {
	// URL is a shorthand for a single endpoint without credentials
	URL                 string              `mapstructure:"url"`
	Endpoints           []RPCEndpointConfig `mapstructure:"endpoints"`
	Concurrency         int                 `mapstructure:"concurrency"`
	RateLimit           int                 `mapstructure:"rateLimit"`
	MaxRetries          int                 `mapstructure:"maxRetries"`
	RetryInitialDelayMs int                 `mapstructure:"retryInitialDelayMs"`
	RequestTimeoutMs    int                 `mapstructure:"requestTimeoutMs"`
}

type ContractConfig struct {
	Address    string `mapstructure:"address"`
	ChainID    int64  `mapstructure:"chainId"`
	PrivateKey string `mapstructure:"privateKey"`
	GasLimit   uint64 `mapstructure:"gasLimit"`
}

// Validate rejects a contract address that would make the scanner request the
// logs of every contract on the chain.
func (c ContractConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("contract.address is required")
	}
	if !gethCommon.IsHexAddress(c.Address) {
		return fmt.Errorf("contract.address %q is not a valid address", c.Address)
	}
	if gethCommon.HexToAddress(c.Address) == (gethCommon.Address{}) {
		return fmt.Errorf("contract.address must not be the zero address")
	}
	return nil
}

type ScannerConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Interval       int  `mapstructure:"interval"`
	BlocksPerBatch int  `mapstructure:"blocksPerBatch"`
	FromBlock      int  `mapstructure:"fromBlock"`
	ForceFromBlock bool `mapstructure:"forceFromBlock"`
	ReorgMargin    int  `mapstructure:"reorgMargin"`
}

type ReplayConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	Interval            int  `mapstructure:"interval"`
	BatchLimit          int  `mapstructure:"batchLimit"`
	MaxConcurrentGroups int  `mapstructure:"maxConcurrentGroups"`
	ReconcileReserves   bool `mapstructure:"reconcileReserves"`
	VolumeWindowHours   int  `mapstructure:"volumeWindowHours"`
}

// CurveConfig holds the decimal string constants of one curve class, in base units.
type CurveConfig struct {
	X0 string `mapstructure:"x0"`
	Y0 string `mapstructure:"y0"`
	K  string `mapstructure:"k"`
	X1 string `mapstructure:"x1"`
	Y1 string `mapstructure:"y1"`
}

type RetentionConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxAgeDays int  `mapstructure:"maxAgeDays"`
}

type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"sslMode"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
	MaxIdleConns    int    `mapstructure:"maxIdleConns"`
	MaxConnLifetime int    `mapstructure:"maxConnLifetime"`
	ConnectTimeout  int    `mapstructure:"connectTimeout"`
}

type MemoryConfig struct {
	MaxItems int `mapstructure:"maxItems"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"poolSize"`
	EnableTLS bool   `mapstructure:"enableTLS"`
}

type StorageConfig struct {
	Postgres *PostgresConfig `mapstructure:"postgres"`
	Memory   *MemoryConfig   `mapstructure:"memory"`
	// Redis, when set, backs the single-flight leases shared by replicas
	Redis *RedisConfig `mapstructure:"redis"`
}

type PublisherConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Brokers  string `mapstructure:"brokers"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ConsumerGroup is used by a standalone gateway relaying the topic to its clients
	ConsumerGroup string `mapstructure:"consumerGroup"`
}

type GatewayConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	JWTSecret      string   `mapstructure:"jwtSecret"`
	SendBuffer     int      `mapstructure:"sendBuffer"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type MigrationsConfig struct {
	AutoMigrate bool `mapstructure:"autoMigrate"`
}

type Config struct {
	RPC        RPCConfig              `mapstructure:"rpc"`
	Log        LogConfig              `mapstructure:"log"`
	Contract   ContractConfig         `mapstructure:"contract"`
	Scanner    ScannerConfig          `mapstructure:"scanner"`
	Replay     ReplayConfig           `mapstructure:"replay"`
	Curves     map[string]CurveConfig `mapstructure:"curves"`
	Retention  RetentionConfig        `mapstructure:"retention"`
	Storage    StorageConfig          `mapstructure:"storage"`
	Publisher  PublisherConfig        `mapstructure:"publisher"`
	Gateway    GatewayConfig          `mapstructure:"gateway"`
	Migrations MigrationsConfig       `mapstructure:"migrations"`
}

var Cfg Config

func LoadConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file, %s", err)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")

		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file, %s", err)
		}

		viper.SetConfigName("secrets")
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error loading secrets file: %v", err)
			}
		}
	}

	// sets e.g. CONTRACT_PRIVATEKEY to contract.privateKey
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	err := viper.Unmarshal(&Cfg)
	if err != nil {
		return fmt.Errorf("error unmarshalling config: %v", err)
	}

	return nil
}
