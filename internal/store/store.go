// Package store persists the issuance service's server-side state: issued
// licenses, device activations, and single-use download tokens.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTokenUsed indicates a download token has already been redeemed.
	ErrTokenUsed = errors.New("download token already used")
)

// IssuedLicense is a key issued to a named customer.
type IssuedLicense struct {
	Key           string    `json:"key"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Activation binds an issued key to a single device.
type Activation struct {
	Key         string    `json:"key"`
	Email       string    `json:"email"`
	Device      string    `json:"device"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// DownloadToken is a single-use token for fetching a client package.
type DownloadToken struct {
	Token     string    `json:"token"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	OS        string    `json:"os,omitempty"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"usedAt,omitempty"`
}

// Store is the persistence interface for the issuance service. Backends must
// be safe for concurrent use.
type Store interface {
	// PutIssued records an issued license, replacing any previous row for
	// the same key. Issuance is deterministic, so re-issuing to the same
	// customer overwrites with identical data.
	PutIssued(ctx context.Context, lic IssuedLicense) error
	// GetIssued fetches an issued license by key.
	GetIssued(ctx context.Context, key string) (IssuedLicense, error)

	// PutActivation records the device binding for a key.
	PutActivation(ctx context.Context, act Activation) error
	// GetActivation fetches the activation for a key.
	GetActivation(ctx context.Context, key string) (Activation, error)

	// CreateToken stores a new download token.
	CreateToken(ctx context.Context, tok DownloadToken) error
	// GetToken fetches a token regardless of used state, so the caller can
	// distinguish unknown tokens from spent ones.
	GetToken(ctx context.Context, token string) (DownloadToken, error)
	// ConsumeToken marks a token used. Returns ErrTokenUsed if it was
	// already spent.
	ConsumeToken(ctx context.Context, token string) error
	// PurgeTokens deletes tokens, used or not, created before
	// cutoff, returning the number removed.
	PurgeTokens(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
