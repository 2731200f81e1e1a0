// Package params provides typed accessors for operator-controlled
// protocol parameters persisted in the state backend. Values are stored
// as JSON so parameter updates stay inspectable.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// StoreState captures the subset of state backend capabilities required
// by the parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Protocol bundles the adjustable commitment protocol parameters.
type Protocol struct {
	Admin              [20]byte `json:"admin"`
	ProtocolFeeAddress [20]byte `json:"protocolFeeAddress"`
	Vault              [20]byte `json:"vault"`
	ProtocolShareBps   uint32   `json:"protocolShareBps"`
	CreateFee          *big.Int `json:"createFee"`
	JoinFee            *big.Int `json:"joinFee"`
}

// Normalize fills nil amounts with zero so callers can rely on non-nil
// fee fields.
func (p *Protocol) Normalize() {
	if p.CreateFee == nil {
		p.CreateFee = big.NewInt(0)
	}
	if p.JoinFee == nil {
		p.JoinFee = big.NewInt(0)
	}
}

// Validate verifies the parameter record is inside protocol bounds.
func (p *Protocol) Validate() error {
	if p.ProtocolShareBps > 10_000 {
		return fmt.Errorf("params: protocol share %d exceeds denominator", p.ProtocolShareBps)
	}
	if p.CreateFee != nil && p.CreateFee.Sign() < 0 {
		return fmt.Errorf("params: create fee must be non-negative")
	}
	if p.JoinFee != nil && p.JoinFee.Sign() < 0 {
		return fmt.Errorf("params: join fee must be non-negative")
	}
	return nil
}

// Store provides typed accessors for protocol parameters.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetProtocol persists the supplied parameter record under the canonical
// key after validation.
func (s *Store) SetProtocol(p Protocol) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("params: encode protocol: %w", err)
	}
	return state.ParamStoreSet(KeyProtocol, encoded)
}

// Protocol loads the persisted parameter record. The boolean reports
// whether a record was present.
func (s *Store) Protocol() (Protocol, bool, error) {
	state, err := s.withState()
	if err != nil {
		return Protocol{}, false, err
	}
	raw, ok, err := state.ParamStoreGet(KeyProtocol)
	if err != nil {
		return Protocol{}, false, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return Protocol{}, false, nil
	}
	var p Protocol
	if err := json.Unmarshal(raw, &p); err != nil {
		return Protocol{}, false, fmt.Errorf("params: decode protocol: %w", err)
	}
	p.Normalize()
	return p, true, nil
}
