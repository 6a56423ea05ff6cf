package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Bidon15/fontana/internal/types"
)

var AppConfig Config

type Config struct {
	DBPath      string
	GenesisFile string

	DANodeURL            string
	DAAuthToken          string
	DANamespace          types.Namespace
	DAConfirmationBlocks int

	BlockInterval       time.Duration
	MaxBatch            int
	HistoricalRootsKept int

	L1NodeURL      string
	L1VaultAddress string
	L1PollInterval time.Duration
	L1Confirmations int
	L1StartHeight  int64

	HTTPPort      string
	HTTPJwtSecret string

	LogLevel logrus.Level
}

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("DB_PATH", defaultDataDir())
	viper.SetDefault("GENESIS_FILE", "")
	viper.SetDefault("DA_NODE_URL", "http://localhost:26658")
	viper.SetDefault("DA_AUTH_TOKEN", "")
	viper.SetDefault("DA_NAMESPACE", "66746e6100000001")
	viper.SetDefault("DA_CONFIRMATION_BLOCKS", 2)
	viper.SetDefault("BLOCK_INTERVAL_SECONDS", 6)
	viper.SetDefault("MAX_BATCH", 100)
	viper.SetDefault("HISTORICAL_ROOTS_KEPT", 0)
	viper.SetDefault("L1_NODE_URL", "http://localhost:26657")
	viper.SetDefault("L1_VAULT_ADDRESS", "")
	viper.SetDefault("L1_POLL_INTERVAL", "10s")
	viper.SetDefault("L1_CONFIRMATIONS", 2)
	viper.SetDefault("L1_START_HEIGHT", 0)
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("HTTP_JWT_SECRET", "")
	viper.SetDefault("LOG_LEVEL", "info")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	namespace, err := types.ParseNamespace(viper.GetString("DA_NAMESPACE"))
	if err != nil {
		logrus.Fatalf("Invalid DA namespace: %v", err)
	}

	blockInterval := time.Duration(viper.GetInt("BLOCK_INTERVAL_SECONDS")) * time.Second
	if blockInterval <= 0 {
		logrus.Fatalf("BLOCK_INTERVAL_SECONDS must be positive, got %v", viper.GetInt("BLOCK_INTERVAL_SECONDS"))
	}

	// Snapshot retention defaults to the DA finality depth; clients prove
	// against roots at least that old.
	rootsKept := viper.GetInt("HISTORICAL_ROOTS_KEPT")
	if rootsKept <= 0 {
		rootsKept = viper.GetInt("DA_CONFIRMATION_BLOCKS")
	}
	if rootsKept < 2 {
		rootsKept = 2
	}

	AppConfig = Config{
		DBPath:               viper.GetString("DB_PATH"),
		GenesisFile:          viper.GetString("GENESIS_FILE"),
		DANodeURL:            viper.GetString("DA_NODE_URL"),
		DAAuthToken:          viper.GetString("DA_AUTH_TOKEN"),
		DANamespace:          namespace,
		DAConfirmationBlocks: viper.GetInt("DA_CONFIRMATION_BLOCKS"),
		BlockInterval:        blockInterval,
		MaxBatch:             viper.GetInt("MAX_BATCH"),
		HistoricalRootsKept:  rootsKept,
		L1NodeURL:            viper.GetString("L1_NODE_URL"),
		L1VaultAddress:       viper.GetString("L1_VAULT_ADDRESS"),
		L1PollInterval:       viper.GetDuration("L1_POLL_INTERVAL"),
		L1Confirmations:      viper.GetInt("L1_CONFIRMATIONS"),
		L1StartHeight:        viper.GetInt64("L1_START_HEIGHT"),
		HTTPPort:             viper.GetString("HTTP_PORT"),
		HTTPJwtSecret:        viper.GetString("HTTP_JWT_SECRET"),
		LogLevel:             logLevel,
	}

	logrus.Infof("Init config, BlockInterval %v, MaxBatch %d, RootsKept %d, namespace %s",
		AppConfig.BlockInterval, AppConfig.MaxBatch, AppConfig.HistoricalRootsKept, AppConfig.DANamespace.Hex())

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fontana"
	}
	return filepath.Join(home, ".fontana")
}
