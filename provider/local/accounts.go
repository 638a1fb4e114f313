package local

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
)

const sqliteCreateAccounts = `CREATE TABLE IF NOT EXISTS accounts (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT,
    display_name TEXT,
    photo_url TEXT,
    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    sign_in_methods TEXT NOT NULL DEFAULT '',
    federated_subject TEXT,
    login_attempts INTEGER NOT NULL DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    verification_sent_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`

// Account is the Bun model for locally managed identities.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email              string     `bun:"email,notnull" json:"email"`
	PasswordHash       string     `bun:"password_hash" json:"-"`
	DisplayName        string     `bun:"display_name" json:"display_name,omitempty"`
	PhotoURL           string     `bun:"photo_url" json:"photo_url,omitempty"`
	EmailVerified      bool       `bun:"email_verified" json:"email_verified"`
	SignInMethods      string     `bun:"sign_in_methods" json:"sign_in_methods"`
	FederatedSubject   string     `bun:"federated_subject" json:"-"`
	LoginAttempts      int        `bun:"login_attempts" json:"-"`
	LoginAttemptAt     *time.Time `bun:"login_attempt_at" json:"-"`
	VerificationSentAt *time.Time `bun:"verification_sent_at" json:"-"`
	LoggedInAt         *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero" json:"updated_at"`
}

// Methods returns the sign-in methods linked to the account.
func (a *Account) Methods() []string {
	if a == nil || a.SignInMethods == "" {
		return []string{}
	}
	return lo.Compact(strings.Split(a.SignInMethods, ","))
}

// HasMethod reports whether method is linked to the account.
func (a *Account) HasMethod(method string) bool {
	return lo.Contains(a.Methods(), method)
}

// AddMethod links method to the account.
func (a *Account) AddMethod(method string) {
	methods := lo.Uniq(append(a.Methods(), method))
	a.SignInMethods = strings.Join(methods, ",")
}

// Accounts stores local identities.
type Accounts interface {
	Migrate(ctx context.Context) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	Save(ctx context.Context, account *Account) error
	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error
}

type accounts struct {
	repo repository.Repository[*Account]
	db   *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository creates a Bun backed Accounts store.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{repo: repo, db: db}
}

func (a *accounts) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, sqliteCreateAccounts)
	return err
}

// GetByEmail looks up an account by normalized email.
func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"identifier": email,
			})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByID(ctx context.Context, id string) (*Account, error) {
	return a.repo.GetByID(ctx, id)
}

func (a *accounts) Create(ctx context.Context, account *Account) (*Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = normalizeEmail(account.Email)
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	return a.repo.CreateTx(ctx, a.db, account)
}

// Save writes every mutable profile column of account.
func (a *accounts) Save(ctx context.Context, account *Account) error {
	account.UpdatedAt = time.Now().UTC()
	_, err := a.db.NewUpdate().
		Model(account).
		Column("display_name", "photo_url", "email_verified", "sign_in_methods",
			"federated_subject", "password_hash", "verification_sent_at", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error {
	account.LoginAttempts++
	account.LoginAttemptAt = &at
	_, err := a.db.NewRaw(`
		UPDATE "accounts"
		SET "login_attempts" = ?, "login_attempt_at" = ?
		WHERE "id" = ?;
	`, account.LoginAttempts, at, account.ID).Exec(ctx)
	return err
}

// TrackSuccessfulLogin resets the attempt counter.
func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error {
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LoggedInAt = &at
	_, err := a.db.NewRaw(`
		UPDATE "accounts"
		SET "loggedin_at" = ?, "login_attempt_at" = NULL, "login_attempts" = 0
		WHERE "id" = ?;
	`, at, account.ID).Exec(ctx)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
