package commitment

import (
	"math/big"
	"time"

	"commitprotocol/core/events"
	"commitprotocol/core/types"
	"commitprotocol/native/common"
	"commitprotocol/native/fees"
)

// PauseModule is the toggle name checked against the pause view before any
// mutating operation.
const PauseModule = "commitment"

type engineState interface {
	CommitmentPut(*Commitment) error
	CommitmentGet(id uint64) (*Commitment, bool, error)
	CommitmentNextID() (uint64, error)
	ClaimsPut(id uint64, claims *Claims) error
	ClaimsGet(id uint64) (*Claims, bool, error)
	ReceiptPut(*Receipt) error
	ReceiptGet(id ReceiptID) (*Receipt, bool, error)
	ReceiptByOwner(commitmentID uint64, owner [20]byte) (*Receipt, bool, error)
	WinnerSetPut(commitmentID uint64, winners [][20]byte) error
	WinnerSetHas(commitmentID uint64, addr [20]byte) (bool, error)
	EscrowCredit(commitmentID uint64, token string, amount *big.Int) error
	EscrowDebit(commitmentID uint64, token string, amount *big.Int) error
	EscrowBalance(commitmentID uint64, token string) (*big.Int, error)
	FeePoolAdd(token string, amount *big.Int) error
	FeePoolBalance(token string) (*big.Int, error)
	FeePoolClear(token string) (*big.Int, error)
	FundingAdd(commitmentID uint64, token string, funder [20]byte, amount *big.Int) error
	FundingSub(commitmentID uint64, token string, funder [20]byte, amount *big.Int) error
	FundingContribution(commitmentID uint64, token string, funder [20]byte) (*big.Int, error)
	FundingTotal(commitmentID uint64, token string) (*big.Int, error)
	FundingTokens(commitmentID uint64) ([]string, error)
	TokenAllowed(token string) (bool, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// ClientDirectory resolves referral client identifiers to a withdraw
// address and fee share. An unknown identifier resolves to ok=false with a
// zero fee share rather than an error.
type ClientDirectory interface {
	Lookup(id string) (withdraw [20]byte, feeShareBps uint32, ok bool, err error)
}

// ReceiptIssuer mints the external ownership token mirroring a
// participation receipt. The ledger remains the source of truth for
// ownership; the issuer is informational.
type ReceiptIssuer interface {
	Mint(owner [20]byte, id ReceiptID) error
}

// Disperser accepts a bulk payout batch on behalf of the engine. Used by
// the disperse-resolution variant.
type Disperser interface {
	Disperse(from [20]byte, token string, recipients [][20]byte, amounts []*big.Int) error
}

// Engine wires the commitment protocol business logic with external state,
// fee configuration and event emission. Mutating entry points are guarded
// by the pause view and an explicit re-entrancy flag; the execution model
// is single-writer, so the flag rejects nested calls rather than blocking.
type Engine struct {
	state            engineState
	emitter          events.Emitter
	pauses           common.PauseView
	clients          ClientDirectory
	issuer           ReceiptIssuer
	disperser        Disperser
	nowFn            func() int64
	vault            [20]byte
	admin            [20]byte
	protocolFeeAddr  [20]byte
	protocolShareBps uint32
	createFee        *big.Int
	joinFee          *big.Int
	inCall           bool
}

// NewEngine constructs a commitment engine with a no-op emitter and zero
// flat fees. Callers configure state, vault and fee parameters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		createFee: big.NewInt(0),
		joinFee:   big.NewInt(0),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauseView configures the pause source gating mutating operations.
func (e *Engine) SetPauseView(view common.PauseView) { e.pauses = view }

// SetClientDirectory configures the referral client lookup source.
func (e *Engine) SetClientDirectory(dir ClientDirectory) { e.clients = dir }

// SetReceiptIssuer configures the external ownership-token issuer.
func (e *Engine) SetReceiptIssuer(issuer ReceiptIssuer) { e.issuer = issuer }

// SetDisperser configures the bulk payout collaborator.
func (e *Engine) SetDisperser(d Disperser) { e.disperser = d }

// SetNowFunc overrides the time source. Primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetVault configures the escrow holding address.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetAdmin configures the protocol administrator address.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetProtocolFeeAddress configures the fee pool withdrawal recipient.
func (e *Engine) SetProtocolFeeAddress(addr [20]byte) { e.protocolFeeAddr = addr }

// SetProtocolShareBps configures the protocol's basis-point cut of stakes
// and creator fees.
func (e *Engine) SetProtocolShareBps(bps uint32) { e.protocolShareBps = bps }

// SetCreateFee configures the flat native-asset fee charged at creation.
func (e *Engine) SetCreateFee(fee *big.Int) { e.createFee = cloneBigInt(fee) }

// SetJoinFee configures the flat native-asset fee charged at join.
func (e *Engine) SetJoinFee(fee *big.Int) { e.joinFee = cloneBigInt(fee) }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(commitmentEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// enter flips the re-entrancy flag for the duration of a mutating call.
// The returned release func must run on every exit path.
func (e *Engine) enter() (func(), error) {
	if e.inCall {
		return nil, ErrReentrancy
	}
	e.inCall = true
	return func() { e.inCall = false }, nil
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return err
	}
	if e.vault == ([20]byte{}) {
		return ErrVaultNotSet
	}
	return nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balances: make(map[string]*big.Int)}
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// addOutflow accumulates a pending transfer leg into per-token totals.
func addOutflow(legs map[string]*big.Int, token string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if current, ok := legs[token]; ok {
		current.Add(current, amount)
		return
	}
	legs[token] = new(big.Int).Set(amount)
}

// requireBalances verifies the account covers every pending outflow leg.
// Mutating operations call this before their first durable write, so a
// shortfall rejects the whole call with state untouched.
func (e *Engine) requireBalances(addr [20]byte, legs map[string]*big.Int) error {
	if len(legs) == 0 {
		return nil
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = ensureAccount(acc)
	for token, amount := range legs {
		if acc.BalanceOf(token).Cmp(amount) < 0 {
			return ErrInsufficientBal
		}
	}
	return nil
}

// transferToken moves amount of token between ledger accounts. Zero
// amounts are a no-op; a shortfall aborts with no balance change.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	balance := fromAcc.BalanceOf(token)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBal
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.BalanceOf(token), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) loadCommitment(id uint64) (*Commitment, error) {
	c, ok, err := e.state.CommitmentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (e *Engine) loadClaims(id uint64) (*Claims, error) {
	claims, ok, err := e.state.ClaimsGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || claims == nil {
		claims = NewClaims()
	}
	return claims, nil
}

func (e *Engine) tokenAllowed(token string) error {
	if token == TokenNative {
		return nil
	}
	ok, err := e.state.TokenAllowed(token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotAllowed
	}
	return nil
}

// isAdmin reports whether the caller is the configured protocol admin.
// An unconfigured (zero) admin matches nobody, so admin-only paths stay
// closed until SetAdmin runs.
func (e *Engine) isAdmin(caller [20]byte) bool {
	return e.admin != ([20]byte{}) && caller == e.admin
}

func (e *Engine) lookupClient(id string) (withdraw [20]byte, bps uint32, ok bool, err error) {
	if e.clients == nil {
		return [20]byte{}, 0, false, nil
	}
	return e.clients.Lookup(id)
}

// CommitmentSpec carries the caller-supplied definition of a new
// commitment.
type CommitmentSpec struct {
	Token           string
	Stake           *big.Int
	CreatorFee      *big.Int
	Description     []byte
	JoinDeadline    int64
	FulfillDeadline int64
	MetadataURI     string
}

// Create initialises a new commitment, escrows the creator's stake, pays
// any referral client share and auto-enrolls the creator as participant
// one. The value argument is the native amount submitted with the call and
// must reconcile exactly against the required payment.
func (e *Engine) Create(caller [20]byte, spec CommitmentSpec, clientID string, value *big.Int) (*Commitment, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	token, err := NormalizeToken(spec.Token)
	if err != nil {
		return nil, err
	}
	if err := e.tokenAllowed(token); err != nil {
		return nil, err
	}
	stake := cloneBigInt(spec.Stake)
	if stake.Sign() <= 0 {
		return nil, ErrInvalidStake
	}
	creatorFee := cloneBigInt(spec.CreatorFee)
	if creatorFee.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if len(spec.Description) > MaxDescriptionLen {
		return nil, ErrDescriptionSize
	}
	now := e.now()
	if spec.JoinDeadline <= now {
		return nil, ErrDeadlinePassed
	}
	if spec.FulfillDeadline <= spec.JoinDeadline {
		return nil, ErrInvalidDeadlines
	}

	clientAddr, clientBps, hasClient, err := e.lookupClient(clientID)
	if err != nil {
		return nil, err
	}
	clientShare := fees.Share(stake, clientBps)

	// Exact value reconciliation: the native leg of a create covers the
	// flat creation fee, plus stake and client share when the commitment
	// itself is denominated in the native asset.
	required := cloneBigInt(e.createFee)
	if token == TokenNative {
		required.Add(required, stake)
		required.Add(required, clientShare)
	}
	sent := cloneBigInt(value)
	if sent.Cmp(e.createFee) < 0 {
		return nil, ErrCreateFeeTooLow
	}
	if sent.Cmp(required) != 0 {
		return nil, ErrValueMismatch
	}

	outflows := make(map[string]*big.Int)
	addOutflow(outflows, TokenNative, e.createFee)
	addOutflow(outflows, token, stake)
	if hasClient {
		addOutflow(outflows, token, clientShare)
	}
	if err := e.requireBalances(caller, outflows); err != nil {
		return nil, err
	}

	id, err := e.state.CommitmentNextID()
	if err != nil {
		return nil, err
	}

	if e.createFee.Sign() > 0 {
		if err := e.transferToken(caller, e.vault, TokenNative, e.createFee); err != nil {
			return nil, err
		}
		if err := e.state.FeePoolAdd(TokenNative, e.createFee); err != nil {
			return nil, err
		}
	}
	if err := e.transferToken(caller, e.vault, token, stake); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, token, stake); err != nil {
		return nil, err
	}
	if hasClient && clientShare.Sign() > 0 {
		if err := e.transferToken(caller, clientAddr, token, clientShare); err != nil {
			return nil, err
		}
	}

	c := &Commitment{
		ID:               id,
		Creator:          caller,
		Token:            token,
		Stake:            stake,
		CreatorFee:       creatorFee,
		Description:      append([]byte(nil), spec.Description...),
		JoinDeadline:     spec.JoinDeadline,
		FulfillDeadline:  spec.FulfillDeadline,
		MetadataURI:      spec.MetadataURI,
		ParticipantCount: 1,
		Status:           StatusActive,
		CreatedAt:        now,
	}
	if err := e.state.CommitmentPut(c); err != nil {
		return nil, err
	}
	if err := e.state.ClaimsPut(id, NewClaims()); err != nil {
		return nil, err
	}
	receipt := &Receipt{ID: ReceiptID{CommitmentID: id, Sequence: 1}, Owner: caller, JoinedAt: now}
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	if e.issuer != nil {
		if err := e.issuer.Mint(caller, receipt.ID); err != nil {
			return nil, err
		}
	}
	e.emit(NewCreatedEvent(c))
	e.emit(NewJoinedEvent(c, receipt))
	return c.Clone(), nil
}

// Join enrolls the caller in an active commitment before the join
// deadline, escrowing stake plus any creator fee, crediting the protocol
// skim of that fee to the pool and paying any referral client share.
func (e *Engine) Join(caller [20]byte, id uint64, clientID string, value *big.Int) (*Receipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.loadCommitment(id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}
	now := e.now()
	if now >= c.JoinDeadline {
		return nil, ErrJoinPeriodEnded
	}
	if _, joined, err := e.state.ReceiptByOwner(id, caller); err != nil {
		return nil, err
	} else if joined {
		return nil, ErrAlreadyJoined
	}

	clientAddr, clientBps, hasClient, err := e.lookupClient(clientID)
	if err != nil {
		return nil, err
	}
	split := fees.Split(fees.SplitInput{
		Stake:       c.Stake,
		CreatorFee:  c.CreatorFee,
		ProtocolBps: e.protocolShareBps,
		ClientBps:   clientBps,
	})

	required := cloneBigInt(e.joinFee)
	if c.Token == TokenNative {
		required.Add(required, c.Stake)
		required.Add(required, c.CreatorFee)
		required.Add(required, split.ClientShare)
	}
	sent := cloneBigInt(value)
	if sent.Cmp(e.joinFee) < 0 {
		return nil, ErrJoinFeeTooLow
	}
	if sent.Cmp(required) != 0 {
		return nil, ErrValueMismatch
	}

	outflows := make(map[string]*big.Int)
	addOutflow(outflows, TokenNative, e.joinFee)
	addOutflow(outflows, c.Token, c.Stake)
	addOutflow(outflows, c.Token, c.CreatorFee)
	if hasClient {
		addOutflow(outflows, c.Token, split.ClientShare)
	}
	if err := e.requireBalances(caller, outflows); err != nil {
		return nil, err
	}

	if e.joinFee.Sign() > 0 {
		if err := e.transferToken(caller, e.vault, TokenNative, e.joinFee); err != nil {
			return nil, err
		}
		if err := e.state.FeePoolAdd(TokenNative, e.joinFee); err != nil {
			return nil, err
		}
	}
	if err := e.transferToken(caller, e.vault, c.Token, c.Stake); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, c.Token, c.Stake); err != nil {
		return nil, err
	}
	if c.CreatorFee.Sign() > 0 {
		if err := e.transferToken(caller, e.vault, c.Token, c.CreatorFee); err != nil {
			return nil, err
		}
		if split.ProtocolSkim.Sign() > 0 {
			if err := e.state.FeePoolAdd(c.Token, split.ProtocolSkim); err != nil {
				return nil, err
			}
		}
		if split.CreatorNet.Sign() > 0 {
			if err := e.state.EscrowCredit(id, c.Token, split.CreatorNet); err != nil {
				return nil, err
			}
		}
		claims, err := e.loadClaims(id)
		if err != nil {
			return nil, err
		}
		claims.CreatorClaim = new(big.Int).Add(claims.CreatorClaim, split.CreatorNet)
		if err := e.state.ClaimsPut(id, claims); err != nil {
			return nil, err
		}
	}
	if hasClient && split.ClientShare.Sign() > 0 {
		if err := e.transferToken(caller, clientAddr, c.Token, split.ClientShare); err != nil {
			return nil, err
		}
	}

	c.ParticipantCount++
	if err := e.state.CommitmentPut(c); err != nil {
		return nil, err
	}
	receipt := &Receipt{ID: ReceiptID{CommitmentID: id, Sequence: c.ParticipantCount}, Owner: caller, JoinedAt: now}
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	if e.issuer != nil {
		if err := e.issuer.Mint(caller, receipt.ID); err != nil {
			return nil, err
		}
	}
	e.emit(NewJoinedEvent(c, receipt))
	return receipt.Clone(), nil
}

// Get returns the commitment definition without mutating state.
func (e *Engine) Get(id uint64) (*Commitment, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	c, err := e.loadCommitment(id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// GetClaims returns the claims bookkeeping for the commitment.
func (e *Engine) GetClaims(id uint64) (*Claims, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.loadCommitment(id); err != nil {
		return nil, err
	}
	claims, err := e.loadClaims(id)
	if err != nil {
		return nil, err
	}
	return claims.Clone(), nil
}

// IsClaimed reports whether the receipt has consumed its one-time payout.
func (e *Engine) IsClaimed(id ReceiptID) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	receipt, ok, err := e.state.ReceiptGet(id)
	if err != nil {
		return false, err
	}
	if !ok || receipt == nil {
		return false, ErrNotParticipant
	}
	return receipt.Claimed, nil
}
