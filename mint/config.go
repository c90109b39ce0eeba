package mint

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LogLevel selects the verbosity of the mint's slog handler.
type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// QuoteExpiry is how long a freshly created mint or melt quote stays
// valid before the lazy expiry sweep marks it EXPIRED.
const QuoteExpiry = 10 * time.Minute

// MintMethodSettings bounds the amount a mint quote may request for
// a unit.
type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

// MeltMethodSettings bounds the amount a melt quote may request for
// a unit.
type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

// MintLimits are operational guard rails, independent of protocol
// correctness: a mint may enforce these without the BDHKE core
// needing to know why.
type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}

// Config configures a single mint process: its storage location, its
// default keyset parameters, and its operational limits.
type Config struct {
	MintPath        string
	LogLevel        LogLevel
	DBPath          string
	DBMigrationPath string
	DerivationPathIdx uint32
	MaxOrder        int
	InputFeePpk     uint
	Unit            string
	AdminPort       string
	Limits          MintLimits
}

// GetConfig loads configuration from the environment, using .env if
// present, and fails fast (log.Fatalf) on malformed values — the
// same contract as the teacher's GetConfig.
func GetConfig() Config {
	_ = godotenv.Load()

	var inputFeePpk uint
	if v, ok := os.LookupEnv("INPUT_FEE_PPK"); ok {
		fee, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			log.Fatalf("invalid INPUT_FEE_PPK: %v", err)
		}
		inputFeePpk = uint(fee)
	}

	var derivationPathIdx uint64
	if v, ok := os.LookupEnv("DERIVATION_PATH_IDX"); ok {
		idx, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Fatalf("invalid DERIVATION_PATH_IDX: %v", err)
		}
		derivationPathIdx = idx
	}

	maxOrder := 64
	if v, ok := os.LookupEnv("MAX_ORDER"); ok {
		order, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid MAX_ORDER: %v", err)
		}
		maxOrder = order
	}

	unit := os.Getenv("MINT_UNIT")
	if unit == "" {
		unit = "usdc"
	}

	limits := MintLimits{}
	if v, ok := os.LookupEnv("MAX_BALANCE"); ok {
		maxBalance, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MAX_BALANCE: %v", err)
		}
		limits.MaxBalance = maxBalance
	}
	if v, ok := os.LookupEnv("MINTING_MAX_AMOUNT"); ok {
		maxMint, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MINTING_MAX_AMOUNT: %v", err)
		}
		limits.MintingSettings = MintMethodSettings{MaxAmount: maxMint}
	}
	if v, ok := os.LookupEnv("MELTING_MAX_AMOUNT"); ok {
		maxMelt, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MELTING_MAX_AMOUNT: %v", err)
		}
		limits.MeltingSettings = MeltMethodSettings{MaxAmount: maxMelt}
	}

	logLevel := Info
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logLevel = Debug
	case "disable":
		logLevel = Disable
	}

	return Config{
		MintPath:          os.Getenv("MINT_PATH"),
		LogLevel:          logLevel,
		DBPath:            os.Getenv("MINT_DB_PATH"),
		DBMigrationPath:   "mint/storage/sqlite/migrations",
		DerivationPathIdx: uint32(derivationPathIdx),
		MaxOrder:          maxOrder,
		InputFeePpk:       inputFeePpk,
		Unit:              unit,
		AdminPort:         os.Getenv("MINT_ADMIN_PORT"),
		Limits:            limits,
	}
}
