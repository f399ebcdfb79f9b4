// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Ledger reason codes.
const (
	ReasonPurchase = "purchase" // buyer debit at checkout
	ReasonSale     = "sale"     // seller credit at checkout
	ReasonGrant    = "grant"    // administrative adjustment
	ReasonReversal = "reversal" // compensation of a posting that could not be committed
)

// PendingRegistration is a signup awaiting confirmation over the chat channel.
type PendingRegistration struct {
	Username    string
	PwdHash     []byte
	Salt        []byte
	Code        string // current one-time confirmation code
	SessionHash []byte // hash of the session seed returned at signup
	CreatedAt   time.Time
	RefreshedAt time.Time // TTL is measured from here
}

// Account is a confirmed user bound to an external chat identity.
type Account struct {
	Identity  string // external chat identity (e.g. wxid)
	Username  string
	PwdHash   []byte
	Salt      []byte
	CreatedAt time.Time
}

// Credential is an opaque bearer token. Only its hash is persisted.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// Good is a catalog item listed by its owner.
type Good struct {
	ID          int64
	Name        string
	Price       int64
	Description string
	Owner       string // owner's external identity
	CreatedAt   time.Time
}

// OrderLine is one cart line with the price captured at checkout.
type OrderLine struct {
	GoodID    int64
	Name      string
	Count     int64
	UnitPrice int64
	Seller    string
}

// Order is a committed checkout.
type Order struct {
	ID        uuid.UUID
	Buyer     string
	Total     int64
	Lines     []OrderLine
	CreatedAt time.Time
}

// LedgerAccount is the current balance of one identity.
type LedgerAccount struct {
	Identity  string
	Balance   int64
	UpdatedAt time.Time
}

// LedgerEntry is an append-only audit row. Balance equals the sum of deltas.
type LedgerEntry struct {
	ID       int64
	Time     time.Time
	Identity string
	Reason   string
	Delta    int64
	Ref      string // order id for checkout postings, empty otherwise
}

// Delta is a ledger mutation request.
type Delta struct {
	Identity string
	Amount   int64
	Reason   string
	Ref      string
	// Floor, when set, rejects a debit that would leave the balance below it.
	Floor *int64
}
