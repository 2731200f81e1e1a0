package clients

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"commitprotocol/native/fees"
)

var (
	ErrNilState       = errors.New("clients: state not configured")
	ErrInvalidFeeBps  = errors.New("clients: fee share out of range")
	ErrZeroWithdraw   = errors.New("clients: withdraw address required")
	ErrClientNotFound = errors.New("clients: client not found")
)

// MaxFeeShareBps caps the referral cut a client may register for.
const MaxFeeShareBps = 1_000

// Client associates a referring identity with the address its fee share is
// paid to and the basis-point rate applied to referred stakes.
type Client struct {
	ID           string
	Owner        [20]byte
	Withdraw     [20]byte
	FeeShareBps  uint32
	RegisteredAt int64
}

// Clone returns a copy of the client record.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

type registryState interface {
	ClientPut(*Client) error
	ClientGet(id string) (*Client, bool, error)
}

// Registry manages referral client records.
type Registry struct {
	state registryState
	nowFn func() int64
	newID func() string
}

// NewRegistry constructs a client registry with default dependencies.
func NewRegistry() *Registry {
	return &Registry{
		nowFn: func() int64 { return time.Now().Unix() },
		newID: func() string { return uuid.NewString() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetNowFunc overrides the time source for deterministic testing.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// SetIDFunc overrides the identifier generator for deterministic testing.
func (r *Registry) SetIDFunc(gen func() string) {
	if gen == nil {
		r.newID = func() string { return uuid.NewString() }
		return
	}
	r.newID = gen
}

// AddClient registers a referral client and returns its identifier.
func (r *Registry) AddClient(owner [20]byte, withdraw [20]byte, feeShareBps uint32) (*Client, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	if withdraw == ([20]byte{}) {
		return nil, ErrZeroWithdraw
	}
	if feeShareBps > MaxFeeShareBps || feeShareBps > fees.BpsDenominator {
		return nil, ErrInvalidFeeBps
	}
	client := &Client{
		ID:           r.newID(),
		Owner:        owner,
		Withdraw:     withdraw,
		FeeShareBps:  feeShareBps,
		RegisteredAt: r.nowFn(),
	}
	if err := r.state.ClientPut(client); err != nil {
		return nil, err
	}
	return client.Clone(), nil
}

// Get returns the client record for the supplied identifier.
func (r *Registry) Get(id string) (*Client, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	client, ok, err := r.state.ClientGet(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !ok || client == nil {
		return nil, ErrClientNotFound
	}
	return client.Clone(), nil
}

// Lookup resolves the withdraw address and fee share for the supplied
// identifier. An empty or unknown identifier degrades to a zero fee share
// rather than an error, matching the join-time referral semantics.
func (r *Registry) Lookup(id string) (withdraw [20]byte, feeShareBps uint32, ok bool, err error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return [20]byte{}, 0, false, nil
	}
	if r == nil || r.state == nil {
		return [20]byte{}, 0, false, ErrNilState
	}
	client, found, err := r.state.ClientGet(trimmed)
	if err != nil {
		return [20]byte{}, 0, false, err
	}
	if !found || client == nil {
		return [20]byte{}, 0, false, nil
	}
	return client.Withdraw, client.FeeShareBps, true, nil
}
