package assembler

import (
	"fmt"
	"sort"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// sortOutputs orders outputs by reference so selection is deterministic.
func sortOutputs(outs []model.Output) {
	sort.Slice(outs, func(i, j int) bool { return outs[i].Ref.Less(outs[j].Ref) })
}

// selectInputs greedily adds candidates from pool, in order, until have plus
// the selection covers need and at least minInputs are taken. Native assets
// are covered first, then lovelace, preferring pure-ADA candidates for the latter.
func selectInputs(pool []model.Output, have, need model.Value, minInputs int) ([]model.Output, model.Value, error) {
	used := make([]bool, len(pool))
	var selected []model.Output
	total := have.Clone()

	take := func(i int) error {
		used[i] = true
		selected = append(selected, pool[i])
		var err error
		total, err = total.Add(pool[i].Value)
		return err
	}

	for _, id := range need.AssetIDs() {
		for i := 0; i < len(pool) && total.Quantity(id) < need.Quantity(id); i++ {
			if used[i] || pool[i].Value.Quantity(id) == 0 {
				continue
			}
			if err := take(i); err != nil {
				return nil, model.Value{}, err
			}
		}
		if total.Quantity(id) < need.Quantity(id) {
			return nil, model.Value{}, fmt.Errorf("asset %s.%s: have %d, need %d: %w",
				id.Policy, id.Name, total.Quantity(id), need.Quantity(id), model.ErrInsufficientFunds)
		}
	}

	for _, pureOnly := range []bool{true, false} {
		for i := 0; i < len(pool) && total.Coin < need.Coin; i++ {
			if used[i] || (pureOnly && pool[i].Value.HasAssets()) {
				continue
			}
			if err := take(i); err != nil {
				return nil, model.Value{}, err
			}
		}
	}
	if total.Coin < need.Coin {
		return nil, model.Value{}, fmt.Errorf("lovelace: have %d, need %d: %w", total.Coin, need.Coin, model.ErrInsufficientFunds)
	}

	// Withdrawals and refunds can pay for a transaction on their own, but the
	// ledger rejects a body without inputs.
	for _, pureOnly := range []bool{true, false} {
		for i := 0; i < len(pool) && len(selected) < minInputs; i++ {
			if used[i] || (pureOnly && pool[i].Value.HasAssets()) {
				continue
			}
			if err := take(i); err != nil {
				return nil, model.Value{}, err
			}
		}
	}
	if len(selected) < minInputs {
		return nil, model.Value{}, fmt.Errorf("inputs: have %d candidates, need %d: %w", len(selected), minInputs, model.ErrInsufficientFunds)
	}
	return selected, total, nil
}

// coverage is a selection together with the change it leaves.
type coverage struct {
	selected []model.Output
	change   model.Value
	// dust is pure-ADA change below min-ADA folded into the fee.
	dust uint64
}

// cover selects inputs paying target and leaves change that can stand as its
// own output. Change below min-ADA pulls in more inputs; when the pool runs
// dry, pure-ADA dust is given to the fee.
func (a *Assembler) cover(pool []model.Output, have, target model.Value, minInputs int, changeAddr []byte) (coverage, error) {
	var (
		first *coverage
		extra uint64
	)
	for {
		need, err := target.Add(model.Lovelace(extra))
		if err != nil {
			return coverage{}, err
		}
		selected, total, err := selectInputs(pool, have, need, minInputs)
		if err != nil {
			if first != nil && !first.change.HasAssets() {
				first.dust = first.change.Coin
				first.change = model.Value{}
				return *first, nil
			}
			return coverage{}, err
		}
		change, err := total.Sub(target)
		if err != nil {
			return coverage{}, err
		}
		c := coverage{selected: selected, change: change}
		if change.IsZero() {
			return c, nil
		}
		minCoin, err := a.changeMinCoin(changeAddr, change)
		if err != nil {
			return coverage{}, err
		}
		if change.Coin >= minCoin {
			return c, nil
		}
		if first == nil {
			first = &c
		}
		extra += minCoin - change.Coin
	}
}

func (a *Assembler) changeMinCoin(addr []byte, change model.Value) (uint64, error) {
	amount, err := ledger.AmountFromValue(change)
	if err != nil {
		return 0, err
	}
	return a.cfg.Params.MinCoin(ledger.Output{Address: addr, Amount: amount})
}

// collateral picks pure-ADA key-locked outputs worth at least amount.
func (a *Assembler) collateral(pool []model.Output, amount uint64) ([]model.Output, error) {
	var (
		picked []model.Output
		total  uint64
	)
	for _, out := range pool {
		if total >= amount || len(picked) == a.cfg.Params.MaxCollateralInputs {
			break
		}
		if out.Value.HasAssets() || out.DatumHash != "" {
			continue
		}
		picked = append(picked, out)
		total += out.Value.Coin
	}
	if total < amount {
		return nil, fmt.Errorf("collateral: have %d in %d inputs, need %d: %w", total, len(picked), amount, model.ErrInsufficientFunds)
	}
	return picked, nil
}
