package ledger

import (
	"fmt"
	"math/big"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/pkg/safe"
)

// Ratio is a non-negative rational price.
type Ratio struct {
	Num uint64
	Den uint64
}

func (r Ratio) times(n uint64) *big.Rat {
	if r.Den == 0 {
		return new(big.Rat)
	}
	x := new(big.Rat).SetFrac(new(big.Int).SetUint64(r.Num), new(big.Int).SetUint64(r.Den))
	return x.Mul(x, new(big.Rat).SetInt(new(big.Int).SetUint64(n)))
}

// ProtocolParams are the ledger parameters the builder prices against.
type ProtocolParams struct {
	MinFeeA             uint64
	MinFeeB             uint64
	CoinsPerUTxOByte    uint64
	KeyDeposit          uint64
	PriceMem            Ratio
	PriceSteps          Ratio
	MaxTxExUnits        model.ExUnits
	MaxTxSize           int
	CollateralPercent   uint64
	MaxCollateralInputs int
	// LanguageViews is the encoded cost model map committed to by the script data hash.
	LanguageViews []byte
}

// DefaultProtocolParams mirrors mainnet values at the Babbage era.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		MinFeeA:             44,
		MinFeeB:             155381,
		CoinsPerUTxOByte:    4310,
		KeyDeposit:          2_000_000,
		PriceMem:            Ratio{Num: 577, Den: 10_000},
		PriceSteps:          Ratio{Num: 721, Den: 10_000_000},
		MaxTxExUnits:        model.ExUnits{Mem: 14_000_000, Steps: 10_000_000_000},
		MaxTxSize:           16384,
		CollateralPercent:   150,
		MaxCollateralInputs: 3,
		LanguageViews:       []byte{0xa0},
	}
}

// MinFee returns minFeeA*size + minFeeB + ceil(priceMem*mem + priceSteps*steps).
func (p ProtocolParams) MinFee(size int, units model.ExUnits) uint64 {
	fee := p.MinFeeA*uint64(size) + p.MinFeeB
	return fee + p.ScriptFee(units)
}

// ScriptFee prices an execution budget, rounding up.
func (p ProtocolParams) ScriptFee(units model.ExUnits) uint64 {
	if units.Mem == 0 && units.Steps == 0 {
		return 0
	}
	total := new(big.Rat).Add(p.PriceMem.times(units.Mem), p.PriceSteps.times(units.Steps))

	q, r := new(big.Int).QuoRem(total.Num(), total.Denom(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Uint64()
}

// MinCoin returns the minimum lovelace the output must carry.
func (p ProtocolParams) MinCoin(out Output) (uint64, error) {
	probe := out
	for i := 0; i < 3; i++ {
		need, err := p.coinsFor(probe)
		if err != nil {
			return 0, err
		}
		if probe.Amount.Coin >= need {
			return need, nil
		}
		probe.Amount.Coin = need
	}
	return p.coinsFor(probe)
}

// coinsFor prices the serialized output plus the fixed per-entry overhead.
func (p ProtocolParams) coinsFor(out Output) (uint64, error) {
	b, err := encMode.Marshal(out)
	if err != nil {
		return 0, fmt.Errorf("encode output: %w", err)
	}
	need, err := safe.Mul(p.CoinsPerUTxOByte, 160+uint64(len(b)))
	if err != nil {
		return 0, fmt.Errorf("min coin: %w", err)
	}
	return need, nil
}

// Collateral returns the collateral required for fee.
func (p ProtocolParams) Collateral(fee uint64) uint64 {
	return (fee*p.CollateralPercent + 99) / 100
}
