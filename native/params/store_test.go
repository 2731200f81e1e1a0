package params

import (
	"math/big"
	"testing"
)

type mockState struct {
	values map[string][]byte
}

func newMockState() *mockState {
	return &mockState{values: make(map[string][]byte)}
}

func (m *mockState) ParamStoreSet(name string, value []byte) error {
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *mockState) ParamStoreGet(name string) ([]byte, bool, error) {
	value, ok := m.values[name]
	return value, ok, nil
}

func TestProtocolRoundTrip(t *testing.T) {
	store := NewStore(newMockState())

	var admin [20]byte
	admin[0] = 0xAD
	record := Protocol{
		Admin:            admin,
		ProtocolShareBps: 100,
		CreateFee:        big.NewInt(5),
	}
	if err := store.SetProtocol(record); err != nil {
		t.Fatalf("SetProtocol: %v", err)
	}

	loaded, ok, err := store.Protocol()
	if err != nil {
		t.Fatalf("Protocol: %v", err)
	}
	if !ok {
		t.Fatal("expected stored record")
	}
	if loaded.Admin != admin {
		t.Fatalf("admin mismatch: %x", loaded.Admin)
	}
	if loaded.CreateFee.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("create fee mismatch: %s", loaded.CreateFee)
	}
	if loaded.JoinFee == nil || loaded.JoinFee.Sign() != 0 {
		t.Fatalf("join fee should normalize to zero, got %v", loaded.JoinFee)
	}
}

func TestProtocolAbsent(t *testing.T) {
	store := NewStore(newMockState())
	_, ok, err := store.Protocol()
	if err != nil {
		t.Fatalf("Protocol: %v", err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestProtocolValidation(t *testing.T) {
	store := NewStore(newMockState())

	if err := store.SetProtocol(Protocol{ProtocolShareBps: 10_001}); err == nil {
		t.Fatal("expected bps bound rejection")
	}
	if err := store.SetProtocol(Protocol{CreateFee: big.NewInt(-1)}); err == nil {
		t.Fatal("expected negative fee rejection")
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.SetProtocol(Protocol{}); err == nil {
		t.Fatal("expected nil state error")
	}
	if _, _, err := NewStore(nil).Protocol(); err == nil {
		t.Fatal("expected nil state error")
	}
}
