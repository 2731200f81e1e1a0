// Package storage provides the durable state backend for the commitment
// protocol. One BoltDB file holds every record family in its own bucket;
// amounts are stored as decimal strings and records as JSON, so the file
// stays inspectable with standard tooling.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	bolt "go.etcd.io/bbolt"

	"commitprotocol/core/types"
	"commitprotocol/native/clients"
	"commitprotocol/native/commitment"
)

var (
	bucketMeta        = []byte("meta")
	bucketCommitments = []byte("commitments")
	bucketClaims      = []byte("claims")
	bucketReceipts    = []byte("receipts")
	bucketOwners      = []byte("receipt_owners")
	bucketWinners     = []byte("winners")
	bucketEscrow      = []byte("escrow")
	bucketFeePool     = []byte("fee_pool")
	bucketFunding     = []byte("funding")
	bucketContrib     = []byte("funding_contrib")
	bucketAccounts    = []byte("accounts")
	bucketClients     = []byte("clients")
	bucketAllowlist   = []byte("token_allowlist")
	bucketPauses      = []byte("pauses")
	bucketParams      = []byte("params")
)

var allBuckets = [][]byte{
	bucketMeta, bucketCommitments, bucketClaims, bucketReceipts,
	bucketOwners, bucketWinners, bucketEscrow, bucketFeePool,
	bucketFunding, bucketContrib, bucketAccounts, bucketClients,
	bucketAllowlist, bucketPauses, bucketParams,
}

var keyNextCommitmentID = []byte("next_commitment_id")

// ErrCorruptRecord is returned when a stored payload fails to decode.
var ErrCorruptRecord = errors.New("storage: corrupt record")

// Store is the BoltDB-backed implementation of the commitment engine and
// client registry state interfaces. It also serves as the pause view and
// the ledger-backed bulk disperser.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the store at the supplied path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func commitmentKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func receiptKey(id commitment.ReceiptID) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], id.CommitmentID)
	binary.BigEndian.PutUint64(key[8:], id.Sequence)
	return key
}

func ownerKey(commitmentID uint64, owner [20]byte) []byte {
	key := make([]byte, 28)
	binary.BigEndian.PutUint64(key[:8], commitmentID)
	copy(key[8:], owner[:])
	return key
}

func tokenKey(commitmentID uint64, token string) []byte {
	return append(commitmentKey(commitmentID), []byte(token)...)
}

func contribKey(commitmentID uint64, token string, funder [20]byte) []byte {
	key := append(commitmentKey(commitmentID), funder[:]...)
	return append(key, []byte(token)...)
}

func getAmount(bucket *bolt.Bucket, key []byte) (*big.Int, error) {
	raw := bucket.Get(key)
	if raw == nil {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrCorruptRecord, raw)
	}
	return amount, nil
}

func addAmount(bucket *bolt.Bucket, key []byte, delta *big.Int) error {
	current, err := getAmount(bucket, key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("storage: balance underflow")
	}
	return bucket.Put(key, []byte(next.String()))
}

// CommitmentPut persists the sanitized commitment definition.
func (s *Store) CommitmentPut(c *commitment.Commitment) error {
	sanitized, err := commitment.SanitizeCommitment(c)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommitments).Put(commitmentKey(sanitized.ID), payload)
	})
}

// CommitmentGet loads a commitment definition by id.
func (s *Store) CommitmentGet(id uint64) (*commitment.Commitment, bool, error) {
	var c commitment.Commitment
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCommitments).Get(commitmentKey(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%w: commitment %d: %v", ErrCorruptRecord, id, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &c, true, nil
}

// CommitmentNextID allocates the next monotonically increasing id.
func (s *Store) CommitmentNextID() (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		raw := meta.Get(keyNextCommitmentID)
		if raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		next++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return meta.Put(keyNextCommitmentID, buf)
	})
	return next, err
}

// ClaimsPut persists the claims bookkeeping for a commitment.
func (s *Store) ClaimsPut(id uint64, claims *commitment.Claims) error {
	if claims == nil {
		return fmt.Errorf("storage: nil claims")
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClaims).Put(commitmentKey(id), payload)
	})
}

// ClaimsGet loads the claims bookkeeping for a commitment.
func (s *Store) ClaimsGet(id uint64) (*commitment.Claims, bool, error) {
	var claims commitment.Claims
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketClaims).Get(commitmentKey(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &claims); err != nil {
			return fmt.Errorf("%w: claims %d: %v", ErrCorruptRecord, id, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &claims, true, nil
}

// ReceiptPut persists a receipt and its owner index entry.
func (s *Store) ReceiptPut(r *commitment.Receipt) error {
	if r == nil {
		return fmt.Errorf("storage: nil receipt")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Put(receiptKey(r.ID), payload); err != nil {
			return err
		}
		return tx.Bucket(bucketOwners).Put(ownerKey(r.ID.CommitmentID, r.Owner), receiptKey(r.ID))
	})
}

// ReceiptGet loads a receipt by its composite key.
func (s *Store) ReceiptGet(id commitment.ReceiptID) (*commitment.Receipt, bool, error) {
	var r commitment.Receipt
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketReceipts).Get(receiptKey(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("%w: receipt %s: %v", ErrCorruptRecord, id, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &r, true, nil
}

// ReceiptByOwner resolves the receipt held by an owner in a commitment.
func (s *Store) ReceiptByOwner(commitmentID uint64, owner [20]byte) (*commitment.Receipt, bool, error) {
	var r commitment.Receipt
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketOwners).Get(ownerKey(commitmentID, owner))
		if key == nil {
			return nil
		}
		raw := tx.Bucket(bucketReceipts).Get(key)
		if raw == nil {
			return fmt.Errorf("%w: dangling owner index %d/%x", ErrCorruptRecord, commitmentID, owner)
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("%w: receipt for owner %x: %v", ErrCorruptRecord, owner, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &r, true, nil
}

// WinnerSetPut stores the explicit winner set for a commitment.
func (s *Store) WinnerSetPut(commitmentID uint64, winners [][20]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketWinners)
		for _, winner := range winners {
			if err := bucket.Put(ownerKey(commitmentID, winner), []byte{0x01}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WinnerSetHas reports explicit winner membership.
func (s *Store) WinnerSetHas(commitmentID uint64, addr [20]byte) (bool, error) {
	var member bool
	err := s.db.View(func(tx *bolt.Tx) error {
		member = tx.Bucket(bucketWinners).Get(ownerKey(commitmentID, addr)) != nil
		return nil
	})
	return member, err
}

// EscrowCredit adds to a commitment's per-token escrow balance.
func (s *Store) EscrowCredit(commitmentID uint64, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid credit amount")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return addAmount(tx.Bucket(bucketEscrow), tokenKey(commitmentID, token), amount)
	})
}

// EscrowDebit subtracts from a commitment's per-token escrow balance,
// failing on underflow.
func (s *Store) EscrowDebit(commitmentID uint64, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid debit amount")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return addAmount(tx.Bucket(bucketEscrow), tokenKey(commitmentID, token), new(big.Int).Neg(amount))
	})
}

// EscrowBalance reads a commitment's per-token escrow balance.
func (s *Store) EscrowBalance(commitmentID uint64, token string) (*big.Int, error) {
	var balance *big.Int
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		balance, err = getAmount(tx.Bucket(bucketEscrow), tokenKey(commitmentID, token))
		return err
	})
	return balance, err
}

// FeePoolAdd accrues protocol fees for a token.
func (s *Store) FeePoolAdd(token string, amount *big.Int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return addAmount(tx.Bucket(bucketFeePool), []byte(token), amount)
	})
}

// FeePoolBalance reads the accumulated protocol fees for a token.
func (s *Store) FeePoolBalance(token string) (*big.Int, error) {
	var balance *big.Int
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		balance, err = getAmount(tx.Bucket(bucketFeePool), []byte(token))
		return err
	})
	return balance, err
}

// FeePoolClear zeroes the fee pool for a token and returns the previous
// balance in one transaction.
func (s *Store) FeePoolClear(token string) (*big.Int, error) {
	var balance *big.Int
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketFeePool)
		var err error
		balance, err = getAmount(bucket, []byte(token))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(token), []byte("0"))
	})
	return balance, err
}

// FundingAdd records a funder's contribution and grows the aggregate pool.
func (s *Store) FundingAdd(commitmentID uint64, token string, funder [20]byte, amount *big.Int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := addAmount(tx.Bucket(bucketFunding), tokenKey(commitmentID, token), amount); err != nil {
			return err
		}
		return addAmount(tx.Bucket(bucketContrib), contribKey(commitmentID, token, funder), amount)
	})
}

// FundingSub shrinks a funder's contribution and the aggregate pool.
func (s *Store) FundingSub(commitmentID uint64, token string, funder [20]byte, amount *big.Int) error {
	neg := new(big.Int).Neg(amount)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := addAmount(tx.Bucket(bucketContrib), contribKey(commitmentID, token, funder), neg); err != nil {
			return err
		}
		return addAmount(tx.Bucket(bucketFunding), tokenKey(commitmentID, token), neg)
	})
}

// FundingContribution reads one funder's outstanding contribution.
func (s *Store) FundingContribution(commitmentID uint64, token string, funder [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		amount, err = getAmount(tx.Bucket(bucketContrib), contribKey(commitmentID, token, funder))
		return err
	})
	return amount, err
}

// FundingTotal reads the aggregate funding pool for one token.
func (s *Store) FundingTotal(commitmentID uint64, token string) (*big.Int, error) {
	var amount *big.Int
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		amount, err = getAmount(tx.Bucket(bucketFunding), tokenKey(commitmentID, token))
		return err
	})
	return amount, err
}

// FundingTokens lists every token with a funding entry for a commitment.
func (s *Store) FundingTokens(commitmentID uint64) ([]string, error) {
	prefix := commitmentKey(commitmentID)
	tokens := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketFunding).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && len(k) > 8 && binary.BigEndian.Uint64(k[:8]) == commitmentID; k, _ = cursor.Next() {
			tokens = append(tokens, string(k[8:]))
		}
		return nil
	})
	return tokens, err
}

// TokenAllowed reports whether a token is on the protocol allow-list.
func (s *Store) TokenAllowed(token string) (bool, error) {
	var allowed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		allowed = tx.Bucket(bucketAllowlist).Get([]byte(token)) != nil
		return nil
	})
	return allowed, err
}

// AllowToken adds a token to the protocol allow-list.
func (s *Store) AllowToken(token string) error {
	normalized, err := commitment.NormalizeToken(token)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllowlist).Put([]byte(normalized), []byte{0x01})
	})
}

// DisallowToken removes a token from the allow-list.
func (s *Store) DisallowToken(token string) error {
	normalized, err := commitment.NormalizeToken(token)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllowlist).Delete([]byte(normalized))
	})
}

// SetPaused flips the pause toggle for a module.
func (s *Store) SetPaused(module string, paused bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPauses)
		if paused {
			return bucket.Put([]byte(module), []byte{0x01})
		}
		return bucket.Delete([]byte(module))
	})
}

// IsPaused implements the engine's pause view. Read failures report as
// paused so a broken store fails closed.
func (s *Store) IsPaused(module string) bool {
	var paused bool
	err := s.db.View(func(tx *bolt.Tx) error {
		paused = tx.Bucket(bucketPauses).Get([]byte(module)) != nil
		return nil
	})
	if err != nil {
		return true
	}
	return paused
}

// GetAccount loads a ledger account, returning an empty account when the
// address has never been seen.
func (s *Store) GetAccount(addr []byte) (*types.Account, error) {
	account := &types.Account{Balances: make(map[string]*big.Int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get(addr)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, account); err != nil {
			return fmt.Errorf("%w: account %x: %v", ErrCorruptRecord, addr, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount persists a ledger account.
func (s *Store) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	payload, err := json.Marshal(account)
	if err != nil {
		return err
	}
	key := append([]byte(nil), addr...)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(key, payload)
	})
}

// ClientPut persists a referral client record.
func (s *Store) ClientPut(c *clients.Client) error {
	if c == nil {
		return fmt.Errorf("storage: nil client")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClients).Put([]byte(c.ID), payload)
	})
}

// ClientGet loads a referral client record by id.
func (s *Store) ClientGet(id string) (*clients.Client, bool, error) {
	var c clients.Client
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketClients).Get([]byte(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%w: client %s: %v", ErrCorruptRecord, id, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &c, true, nil
}

// ParamStoreSet persists a named parameter payload.
func (s *Store) ParamStoreSet(name string, value []byte) error {
	payload := append([]byte(nil), value...)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketParams).Put([]byte(name), payload)
	})
}

// ParamStoreGet loads a named parameter payload.
func (s *Store) ParamStoreGet(name string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketParams).Get([]byte(name))
		if raw == nil {
			return nil
		}
		value = append([]byte(nil), raw...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Disperse implements the engine's bulk payout collaborator against the
// local ledger: every recipient is credited and the source debited in one
// transaction.
func (s *Store) Disperse(from [20]byte, token string, recipients [][20]byte, amounts []*big.Int) error {
	if len(recipients) != len(amounts) {
		return fmt.Errorf("storage: recipients/amounts length mismatch")
	}
	total := big.NewInt(0)
	for _, amount := range amounts {
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("storage: invalid disperse amount")
		}
		total.Add(total, amount)
	}
	source, err := s.GetAccount(from[:])
	if err != nil {
		return err
	}
	if source.BalanceOf(token).Cmp(total) < 0 {
		return fmt.Errorf("storage: disperse source underfunded")
	}
	source.SetBalance(token, new(big.Int).Sub(source.BalanceOf(token), total))
	if err := s.PutAccount(from[:], source); err != nil {
		return err
	}
	for i, recipient := range recipients {
		account, err := s.GetAccount(recipient[:])
		if err != nil {
			return err
		}
		account.SetBalance(token, new(big.Int).Add(account.BalanceOf(token), amounts[i]))
		if err := s.PutAccount(recipient[:], account); err != nil {
			return err
		}
	}
	return nil
}
