package commitment

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"commitprotocol/core/events"
	"commitprotocol/core/types"
)

type mockState struct {
	commitments     map[uint64]*Commitment
	claims          map[uint64]*Claims
	receipts        map[ReceiptID]*Receipt
	receiptsByOwner map[uint64]map[[20]byte]ReceiptID
	winners         map[uint64]map[[20]byte]bool
	escrow          map[uint64]map[string]*big.Int
	feePool         map[string]*big.Int
	funding         map[uint64]map[string]*big.Int
	contrib         map[uint64]map[string]map[[20]byte]*big.Int
	allowed         map[string]bool
	accounts        map[[20]byte]*types.Account
	nextID          uint64
}

func newMockState() *mockState {
	return &mockState{
		commitments:     make(map[uint64]*Commitment),
		claims:          make(map[uint64]*Claims),
		receipts:        make(map[ReceiptID]*Receipt),
		receiptsByOwner: make(map[uint64]map[[20]byte]ReceiptID),
		winners:         make(map[uint64]map[[20]byte]bool),
		escrow:          make(map[uint64]map[string]*big.Int),
		feePool:         make(map[string]*big.Int),
		funding:         make(map[uint64]map[string]*big.Int),
		contrib:         make(map[uint64]map[string]map[[20]byte]*big.Int),
		allowed:         map[string]bool{"WETH": true},
		accounts:        make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) CommitmentPut(c *Commitment) error {
	sanitized, err := SanitizeCommitment(c)
	if err != nil {
		return err
	}
	m.commitments[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) CommitmentGet(id uint64) (*Commitment, bool, error) {
	c, ok := m.commitments[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockState) CommitmentNextID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) ClaimsPut(id uint64, claims *Claims) error {
	if claims == nil {
		return fmt.Errorf("nil claims")
	}
	m.claims[id] = claims.Clone()
	return nil
}

func (m *mockState) ClaimsGet(id uint64) (*Claims, bool, error) {
	claims, ok := m.claims[id]
	if !ok {
		return nil, false, nil
	}
	return claims.Clone(), true, nil
}

func (m *mockState) ReceiptPut(r *Receipt) error {
	if r == nil {
		return fmt.Errorf("nil receipt")
	}
	m.receipts[r.ID] = r.Clone()
	owners, ok := m.receiptsByOwner[r.ID.CommitmentID]
	if !ok {
		owners = make(map[[20]byte]ReceiptID)
		m.receiptsByOwner[r.ID.CommitmentID] = owners
	}
	owners[r.Owner] = r.ID
	return nil
}

func (m *mockState) ReceiptGet(id ReceiptID) (*Receipt, bool, error) {
	r, ok := m.receipts[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockState) ReceiptByOwner(commitmentID uint64, owner [20]byte) (*Receipt, bool, error) {
	owners, ok := m.receiptsByOwner[commitmentID]
	if !ok {
		return nil, false, nil
	}
	id, ok := owners[owner]
	if !ok {
		return nil, false, nil
	}
	return m.ReceiptGet(id)
}

func (m *mockState) WinnerSetPut(commitmentID uint64, winners [][20]byte) error {
	set := make(map[[20]byte]bool, len(winners))
	for _, w := range winners {
		set[w] = true
	}
	m.winners[commitmentID] = set
	return nil
}

func (m *mockState) WinnerSetHas(commitmentID uint64, addr [20]byte) (bool, error) {
	return m.winners[commitmentID][addr], nil
}

func (m *mockState) bucket(id uint64, store map[uint64]map[string]*big.Int, token string) *big.Int {
	tokens, ok := store[id]
	if !ok {
		return big.NewInt(0)
	}
	if v, ok := tokens[token]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (m *mockState) bucketAdd(id uint64, store map[uint64]map[string]*big.Int, token string, amt *big.Int) {
	tokens, ok := store[id]
	if !ok {
		tokens = make(map[string]*big.Int)
		store[id] = tokens
	}
	current := big.NewInt(0)
	if v, exists := tokens[token]; exists && v != nil {
		current = new(big.Int).Set(v)
	}
	tokens[token] = current.Add(current, amt)
}

func (m *mockState) EscrowCredit(id uint64, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("bad credit")
	}
	m.bucketAdd(id, m.escrow, token, amt)
	return nil
}

func (m *mockState) EscrowDebit(id uint64, token string, amt *big.Int) error {
	current := m.bucket(id, m.escrow, token)
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("escrow underflow: have %s want %s", current, amt)
	}
	m.bucketAdd(id, m.escrow, token, new(big.Int).Neg(amt))
	return nil
}

func (m *mockState) EscrowBalance(id uint64, token string) (*big.Int, error) {
	return m.bucket(id, m.escrow, token), nil
}

func (m *mockState) FeePoolAdd(token string, amt *big.Int) error {
	current, ok := m.feePool[token]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	m.feePool[token] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) FeePoolBalance(token string) (*big.Int, error) {
	if v, ok := m.feePool[token]; ok && v != nil {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) FeePoolClear(token string) (*big.Int, error) {
	v, err := m.FeePoolBalance(token)
	if err != nil {
		return nil, err
	}
	m.feePool[token] = big.NewInt(0)
	return v, nil
}

func (m *mockState) FundingAdd(id uint64, token string, funder [20]byte, amt *big.Int) error {
	m.bucketAdd(id, m.funding, token, amt)
	byToken, ok := m.contrib[id]
	if !ok {
		byToken = make(map[string]map[[20]byte]*big.Int)
		m.contrib[id] = byToken
	}
	byFunder, ok := byToken[token]
	if !ok {
		byFunder = make(map[[20]byte]*big.Int)
		byToken[token] = byFunder
	}
	current := big.NewInt(0)
	if v, exists := byFunder[funder]; exists && v != nil {
		current = new(big.Int).Set(v)
	}
	byFunder[funder] = current.Add(current, amt)
	return nil
}

func (m *mockState) FundingSub(id uint64, token string, funder [20]byte, amt *big.Int) error {
	contributed, _ := m.FundingContribution(id, token, funder)
	if contributed.Cmp(amt) < 0 {
		return fmt.Errorf("funding underflow")
	}
	m.bucketAdd(id, m.funding, token, new(big.Int).Neg(amt))
	m.contrib[id][token][funder] = new(big.Int).Sub(contributed, amt)
	return nil
}

func (m *mockState) FundingContribution(id uint64, token string, funder [20]byte) (*big.Int, error) {
	if byToken, ok := m.contrib[id]; ok {
		if byFunder, ok := byToken[token]; ok {
			if v, ok := byFunder[funder]; ok && v != nil {
				return new(big.Int).Set(v), nil
			}
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) FundingTotal(id uint64, token string) (*big.Int, error) {
	return m.bucket(id, m.funding, token), nil
}

func (m *mockState) FundingTokens(id uint64) ([]string, error) {
	tokens := make([]string, 0)
	for token := range m.funding[id] {
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (m *mockState) TokenAllowed(token string) (bool, error) {
	return m.allowed[token], nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, acc *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = acc.Clone()
	return nil
}

func (m *mockState) setBalance(addr [20]byte, token string, amount int64) {
	acc, _ := m.GetAccount(addr[:])
	acc.SetBalance(token, big.NewInt(amount))
	_ = m.PutAccount(addr[:], acc)
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	acc, _ := m.GetAccount(addr[:])
	return acc.BalanceOf(token)
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) typesSeen() []string {
	seen := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		seen = append(seen, evt.EventType())
	}
	return seen
}

type mockPauses struct {
	paused map[string]bool
}

func (m *mockPauses) IsPaused(module string) bool { return m.paused[module] }

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

var (
	vaultAddr   = addr(0xEE)
	adminAddr   = addr(0xAD)
	feeAddr     = addr(0xFE)
	creatorAddr = addr(0x01)
	joinerAddr  = addr(0x02)
	joinerTwo   = addr(0x03)
)

type testClock struct {
	now int64
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *captureEmitter, *testClock) {
	t.Helper()
	state := newMockState()
	emitter := &captureEmitter{}
	clock := &testClock{now: 1_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetVault(vaultAddr)
	engine.SetAdmin(adminAddr)
	engine.SetProtocolFeeAddress(feeAddr)
	engine.SetProtocolShareBps(100) // 1%
	engine.SetNowFunc(func() int64 { return clock.now })
	return engine, state, emitter, clock
}

func defaultSpec() CommitmentSpec {
	return CommitmentSpec{
		Token:           TokenNative,
		Stake:           big.NewInt(100),
		CreatorFee:      big.NewInt(0),
		Description:     []byte("run every day"),
		JoinDeadline:    2_000,
		FulfillDeadline: 3_000,
		MetadataURI:     "ipfs://commitment/1",
	}
}

func mustCreate(t *testing.T, engine *Engine, state *mockState, spec CommitmentSpec) *Commitment {
	t.Helper()
	state.setBalance(creatorAddr, TokenNative, 10_000)
	c, err := engine.Create(creatorAddr, spec, "", big.NewInt(100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func mustJoin(t *testing.T, engine *Engine, state *mockState, id uint64, who [20]byte, value int64) *Receipt {
	t.Helper()
	state.setBalance(who, TokenNative, 10_000)
	receipt, err := engine.Join(who, id, "", big.NewInt(value))
	if err != nil {
		t.Fatalf("Join(%x): %v", who[:1], err)
	}
	return receipt
}

func TestCreateMintsCreatorReceipt(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())

	if c.ID != 1 || c.ParticipantCount != 1 || c.Status != StatusActive {
		t.Fatalf("unexpected commitment: %+v", c)
	}
	receipt, ok, err := state.ReceiptByOwner(c.ID, creatorAddr)
	if err != nil || !ok {
		t.Fatalf("creator receipt missing: ok=%v err=%v", ok, err)
	}
	if receipt.ID.Sequence != 1 || receipt.Claimed {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if got := state.bucket(c.ID, state.escrow, TokenNative); got.Int64() != 100 {
		t.Fatalf("escrow = %s, want 100", got)
	}
	seen := emitter.typesSeen()
	if len(seen) != 2 || seen[0] != EventTypeCreated || seen[1] != EventTypeJoined {
		t.Fatalf("unexpected events: %v", seen)
	}
}

func TestCreateChargesCreationFee(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetCreateFee(big.NewInt(5))
	state.setBalance(creatorAddr, TokenNative, 10_000)

	if _, err := engine.Create(creatorAddr, defaultSpec(), "", big.NewInt(100)); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch without the fee, got %v", err)
	}
	if _, err := engine.Create(creatorAddr, defaultSpec(), "", big.NewInt(3)); !errors.Is(err, ErrCreateFeeTooLow) {
		t.Fatalf("expected ErrCreateFeeTooLow, got %v", err)
	}
	if _, err := engine.Create(creatorAddr, defaultSpec(), "", big.NewInt(105)); err != nil {
		t.Fatalf("Create with fee: %v", err)
	}
	pool, _ := state.FeePoolBalance(TokenNative)
	if pool.Int64() != 5 {
		t.Fatalf("fee pool = %s, want 5", pool)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.setBalance(creatorAddr, TokenNative, 10_000)

	spec := defaultSpec()
	spec.Stake = big.NewInt(0)
	if _, err := engine.Create(creatorAddr, spec, "", big.NewInt(0)); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("zero stake: %v", err)
	}

	spec = defaultSpec()
	spec.FulfillDeadline = spec.JoinDeadline
	if _, err := engine.Create(creatorAddr, spec, "", big.NewInt(100)); !errors.Is(err, ErrInvalidDeadlines) {
		t.Fatalf("bad deadlines: %v", err)
	}

	spec = defaultSpec()
	spec.JoinDeadline = 500 // before now
	if _, err := engine.Create(creatorAddr, spec, "", big.NewInt(100)); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("past join deadline: %v", err)
	}

	spec = defaultSpec()
	spec.Description = make([]byte, MaxDescriptionLen+1)
	if _, err := engine.Create(creatorAddr, spec, "", big.NewInt(100)); !errors.Is(err, ErrDescriptionSize) {
		t.Fatalf("oversized description: %v", err)
	}

	spec = defaultSpec()
	spec.Token = "DOGE" // not allow-listed
	if _, err := engine.Create(creatorAddr, spec, "", big.NewInt(0)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("disallowed token: %v", err)
	}
}

func TestCreatePausedModule(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetPauseView(&mockPauses{paused: map[string]bool{PauseModule: true}})
	state.setBalance(creatorAddr, TokenNative, 10_000)
	if _, err := engine.Create(creatorAddr, defaultSpec(), "", big.NewInt(100)); err == nil {
		t.Fatal("expected pause guard to reject create")
	}
}

func TestJoinEscrowsStake(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	receipt := mustJoin(t, engine, state, c.ID, joinerAddr, 100)

	if receipt.ID.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", receipt.ID.Sequence)
	}
	updated, _, _ := state.CommitmentGet(c.ID)
	if updated.ParticipantCount != 2 {
		t.Fatalf("participant count = %d, want 2", updated.ParticipantCount)
	}
	if got := state.bucket(c.ID, state.escrow, TokenNative); got.Int64() != 200 {
		t.Fatalf("escrow = %s, want 200", got)
	}
	if got := state.balance(joinerAddr, TokenNative); got.Int64() != 9_900 {
		t.Fatalf("joiner balance = %s, want 9900", got)
	}
}

func TestJoinFeeFloorRejection(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetJoinFee(big.NewInt(10))
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10_000)

	before := state.balance(joinerAddr, TokenNative)
	_, err := engine.Join(joinerAddr, c.ID, "", big.NewInt(7))
	if !errors.Is(err, ErrJoinFeeTooLow) {
		t.Fatalf("expected ErrJoinFeeTooLow, got %v", err)
	}
	if after := state.balance(joinerAddr, TokenNative); after.Cmp(before) != 0 {
		t.Fatalf("balance changed on rejected join: %s -> %s", before, after)
	}
	if pool, _ := state.FeePoolBalance(TokenNative); pool.Sign() != 0 {
		t.Fatalf("fee pool changed on rejected join: %s", pool)
	}
}

func TestJoinCreatorFeeAccrual(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	spec := defaultSpec()
	spec.CreatorFee = big.NewInt(200)
	c := mustCreate(t, engine, state, spec)

	// 1% protocol skim of the 200 creator fee leaves 198 for the creator.
	mustJoin(t, engine, state, c.ID, joinerAddr, 300)

	claims, _, _ := state.ClaimsGet(c.ID)
	if claims.CreatorClaim.Int64() != 198 {
		t.Fatalf("creator claim = %s, want 198", claims.CreatorClaim)
	}
	pool, _ := state.FeePoolBalance(TokenNative)
	if pool.Int64() != 2 {
		t.Fatalf("fee pool = %s, want 2", pool)
	}
}

func TestJoinGuards(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10_000)

	if _, err := engine.Join(joinerAddr, 999, "", big.NewInt(100)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing commitment: %v", err)
	}

	mustJoin(t, engine, state, c.ID, joinerAddr, 100)
	if _, err := engine.Join(joinerAddr, c.ID, "", big.NewInt(100)); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("double join: %v", err)
	}

	clock.now = 2_000 // join deadline reached
	state.setBalance(joinerTwo, TokenNative, 10_000)
	if _, err := engine.Join(joinerTwo, c.ID, "", big.NewInt(100)); !errors.Is(err, ErrJoinPeriodEnded) {
		t.Fatalf("late join: %v", err)
	}
}

func TestJoinValueMustReconcileExactly(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10_000)

	// Overpayment is rejected, never silently absorbed.
	if _, err := engine.Join(joinerAddr, c.ID, "", big.NewInt(101)); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("overpayment: %v", err)
	}
}

type clientDirectoryStub struct {
	withdraw [20]byte
	bps      uint32
	known    map[string]bool
}

func (s *clientDirectoryStub) Lookup(id string) ([20]byte, uint32, bool, error) {
	if !s.known[id] {
		return [20]byte{}, 0, false, nil
	}
	return s.withdraw, s.bps, true, nil
}

func TestJoinPaysClientShare(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	clientWallet := addr(0xC1)
	engine.SetClientDirectory(&clientDirectoryStub{
		withdraw: clientWallet,
		bps:      250, // 2.5% of the 100 stake = 2
		known:    map[string]bool{"client-1": true},
	})
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10_000)

	if _, err := engine.Join(joinerAddr, c.ID, "client-1", big.NewInt(102)); err != nil {
		t.Fatalf("Join with client: %v", err)
	}
	if got := state.balance(clientWallet, TokenNative); got.Int64() != 2 {
		t.Fatalf("client wallet = %s, want 2", got)
	}
}

func TestJoinUnknownClientDegradesSilently(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetClientDirectory(&clientDirectoryStub{known: map[string]bool{}})
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10_000)

	// Unregistered client id: no referral fee, join still succeeds.
	if _, err := engine.Join(joinerAddr, c.ID, "ghost", big.NewInt(100)); err != nil {
		t.Fatalf("Join with unknown client: %v", err)
	}
}

type issuerStub struct {
	minted []ReceiptID
}

func (s *issuerStub) Mint(owner [20]byte, id ReceiptID) error {
	s.minted = append(s.minted, id)
	return nil
}

func TestReceiptIssuerMirrorsMints(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	issuer := &issuerStub{}
	engine.SetReceiptIssuer(issuer)
	c := mustCreate(t, engine, state, defaultSpec())
	mustJoin(t, engine, state, c.ID, joinerAddr, 100)

	if len(issuer.minted) != 2 {
		t.Fatalf("issuer minted %d receipts, want 2", len(issuer.minted))
	}
	if issuer.minted[1] != (ReceiptID{CommitmentID: c.ID, Sequence: 2}) {
		t.Fatalf("unexpected receipt id %v", issuer.minted[1])
	}
}

func TestCreateShortfallLeavesStateUntouched(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	engine.SetCreateFee(big.NewInt(10))
	// Enough for the flat fee, not for the stake.
	state.setBalance(creatorAddr, TokenNative, 10)

	if _, err := engine.Create(creatorAddr, defaultSpec(), "", big.NewInt(110)); !errors.Is(err, ErrInsufficientBal) {
		t.Fatalf("expected ErrInsufficientBal, got %v", err)
	}
	if got := state.balance(creatorAddr, TokenNative); got.Int64() != 10 {
		t.Fatalf("caller balance = %s, want 10", got)
	}
	if pool, _ := state.FeePoolBalance(TokenNative); pool.Sign() != 0 {
		t.Fatalf("fee pool credited on rejected create: %s", pool)
	}
	if _, ok, _ := state.CommitmentGet(1); ok {
		t.Fatal("commitment stored despite rejected create")
	}
	if seen := emitter.typesSeen(); len(seen) != 0 {
		t.Fatalf("events emitted on rejected create: %v", seen)
	}
}

func TestJoinShortfallLeavesStateUntouched(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetJoinFee(big.NewInt(10))
	c := mustCreate(t, engine, state, defaultSpec())
	state.setBalance(joinerAddr, TokenNative, 10)

	if _, err := engine.Join(joinerAddr, c.ID, "", big.NewInt(110)); !errors.Is(err, ErrInsufficientBal) {
		t.Fatalf("expected ErrInsufficientBal, got %v", err)
	}
	if got := state.balance(joinerAddr, TokenNative); got.Int64() != 10 {
		t.Fatalf("joiner balance = %s, want 10", got)
	}
	if pool, _ := state.FeePoolBalance(TokenNative); pool.Sign() != 0 {
		t.Fatalf("fee pool credited on rejected join: %s", pool)
	}
	if _, joined, _ := state.ReceiptByOwner(c.ID, joinerAddr); joined {
		t.Fatal("receipt minted despite rejected join")
	}
	updated, _, _ := state.CommitmentGet(c.ID)
	if updated.ParticipantCount != 1 {
		t.Fatalf("participant count = %d, want 1", updated.ParticipantCount)
	}
}
