package types

import "math/big"

// Account tracks the per-token balances held by a single address on the
// value ledger. Token symbols are canonical uppercase strings; the native
// asset uses the "NATIVE" sentinel.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// BalanceOf returns the balance held for the supplied token. A missing
// entry reads as zero; the returned value is a copy and safe to mutate.
func (a *Account) BalanceOf(token string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Balances[token]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// SetBalance stores the supplied balance for the token, allocating the
// balance map when needed. Nil amounts are stored as zero.
func (a *Account) SetBalance(token string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		a.Balances[token] = big.NewInt(0)
		return
	}
	a.Balances[token] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.Balances != nil {
		clone.Balances = make(map[string]*big.Int, len(a.Balances))
		for token, bal := range a.Balances {
			if bal != nil {
				clone.Balances[token] = new(big.Int).Set(bal)
			} else {
				clone.Balances[token] = big.NewInt(0)
			}
		}
	}
	return clone
}
