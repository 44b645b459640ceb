package assembler

import (
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
)

const (
	DefaultMaxFeeRounds       = 10
	DefaultMaxReserveAttempts = 4
	DefaultValidityWindow     = 7200
	DefaultReservationTTL     = 10 * time.Minute
	DefaultLedgerTimeout      = 10 * time.Second
	DefaultStoreTimeout       = 3 * time.Second
)

// Config tunes the assembler.
type Config struct {
	Params ledger.ProtocolParams
	// AddressHRP and NetworkID are the network every address must belong to.
	AddressHRP string
	NetworkID  uint8
	// ValidityWindow is added to the current slot to form the TTL.
	ValidityWindow     uint64
	ReservationTTL     time.Duration
	MaxFeeRounds       int
	MaxReserveAttempts int
	// FeeTolerance is how far the fee may exceed the minimum before another round.
	FeeTolerance  uint64
	LedgerTimeout time.Duration
	StoreTimeout  time.Duration
}

// DefaultConfig returns testnet defaults.
func DefaultConfig() Config {
	params := ledger.DefaultProtocolParams()
	return Config{
		Params:             params,
		AddressHRP:         "addr_test",
		NetworkID:          0,
		ValidityWindow:     DefaultValidityWindow,
		ReservationTTL:     DefaultReservationTTL,
		MaxFeeRounds:       DefaultMaxFeeRounds,
		MaxReserveAttempts: DefaultMaxReserveAttempts,
		FeeTolerance:       params.MinFeeA * 8,
		LedgerTimeout:      DefaultLedgerTimeout,
		StoreTimeout:       DefaultStoreTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AddressHRP == "" {
		c.AddressHRP = d.AddressHRP
	}
	if c.Params.MinFeeA == 0 && c.Params.MinFeeB == 0 {
		c.Params = d.Params
	}
	if c.ValidityWindow == 0 {
		c.ValidityWindow = d.ValidityWindow
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = d.ReservationTTL
	}
	if c.MaxFeeRounds <= 0 {
		c.MaxFeeRounds = d.MaxFeeRounds
	}
	if c.MaxReserveAttempts <= 0 {
		c.MaxReserveAttempts = d.MaxReserveAttempts
	}
	if c.FeeTolerance == 0 {
		c.FeeTolerance = c.Params.MinFeeA * 8
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = d.LedgerTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	return c
}
