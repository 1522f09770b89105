package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestPostgres connects to OUTREACH_TEST_DATABASE_DSN and resets the
// schema. The database is dropped and rebuilt, so never point it at real data.
func openTestPostgres(t *testing.T) *database.Postgres {
	t.Helper()
	dsn := os.Getenv("OUTREACH_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("OUTREACH_TEST_DATABASE_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	require.NoError(t, err)
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	require.NoError(t, err)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
	require.NoError(t, m.Up())

	return &database.Postgres{DB: db}
}

func seedAccount(t *testing.T, db *database.Postgres, credits int) string {
	t.Helper()
	now := time.Now().UTC()
	acc := &model.Account{
		ID:        uuid.NewString(),
		Email:     uuid.NewString() + "@example.com",
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, NewAccountRepository(db).Create(context.Background(), acc))
	return acc.ID
}

func seedContact(t *testing.T, db *database.Postgres, accountID, email, company string) (*model.Contact, bool) {
	t.Helper()
	c := &model.Contact{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Email:     email,
		Company:   company,
		Status:    model.ContactStatusNew,
		CreatedAt: time.Now().UTC(),
	}
	created, err := NewContactRepository(db).Insert(context.Background(), c)
	require.NoError(t, err)
	return c, created
}

func attemptFor(c *model.Contact) *model.Attempt {
	draftID := "draft-" + c.ID
	return &model.Attempt{
		ID:              uuid.NewString(),
		AccountID:       c.AccountID,
		ContactID:       c.ID,
		RecipientEmail:  c.Email,
		Company:         c.Company,
		Subject:         "Hello",
		Status:          model.AttemptStatusDraft,
		ProviderDraftID: &draftID,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestPostgresContactDedupIsNormalized(t *testing.T) {
	db := openTestPostgres(t)
	acc := seedAccount(t, db, 10)
	other := seedAccount(t, db, 10)

	_, created := seedContact(t, db, acc, "Jane@Acme.com", "Acme")
	assert.True(t, created)
	_, created = seedContact(t, db, acc, "  jane@acme.com ", " ACME ")
	assert.False(t, created)
	_, created = seedContact(t, db, acc, "jane@acme.com", "Acme Labs")
	assert.True(t, created)
	_, created = seedContact(t, db, other, "jane@acme.com", "acme")
	assert.True(t, created, "dedup is per account")

	exists, err := NewContactRepository(db).Exists(context.Background(), acc, "JANE@ACME.COM", "acme")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresCommitDraftsInsufficientCreditsWritesNothing(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	acc := seedAccount(t, db, 1)
	c1, _ := seedContact(t, db, acc, "a@one.example", "One")
	c2, _ := seedContact(t, db, acc, "b@two.example", "Two")

	_, _, err := NewAttemptRepository(db).CommitDrafts(ctx, acc, []*model.Attempt{attemptFor(c1), attemptFor(c2)})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	counts, err := NewAttemptRepository(db).CountByStatus(ctx, acc)
	require.NoError(t, err)
	assert.Empty(t, counts)

	txs, err := NewAccountRepository(db).ListTransactions(ctx, acc, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.CreditKindGrant, txs[0].Kind)

	account, err := NewAccountRepository(db).GetByID(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, 1, account.Credits)

	eligible, err := NewContactRepository(db).ListEligible(ctx, acc, 10)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)
}

func TestPostgresContactIsChargedOnce(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	acc := seedAccount(t, db, 10)
	c1, _ := seedContact(t, db, acc, "a@one.example", "One")
	repo := NewAttemptRepository(db)

	committed, balance, err := repo.CommitDrafts(ctx, acc, []*model.Attempt{attemptFor(c1)})
	require.NoError(t, err)
	assert.Len(t, committed, 1)
	assert.Equal(t, 9, balance)

	committed, balance, err = repo.CommitDrafts(ctx, acc, []*model.Attempt{attemptFor(c1)})
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Equal(t, 9, balance)

	counts, err := repo.CountByStatus(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.AttemptStatusDraft])
}

func TestPostgresMarkSentOnce(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	acc := seedAccount(t, db, 10)
	c1, _ := seedContact(t, db, acc, "a@one.example", "One")
	repo := NewAttemptRepository(db)

	committed, _, err := repo.CommitDrafts(ctx, acc, []*model.Attempt{attemptFor(c1)})
	require.NoError(t, err)
	id := committed[0].ID

	require.NoError(t, repo.MarkSent(ctx, acc, id, "m1", time.Now().UTC()))
	assert.ErrorIs(t, repo.MarkSent(ctx, acc, id, "m2", time.Now().UTC()), ErrNotFound)

	a, err := repo.GetByID(ctx, acc, id)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusSent, a.Status)
	require.NotNil(t, a.ProviderMessageID)
	assert.Equal(t, "m1", *a.ProviderMessageID)
}

func TestPostgresBatchTransitions(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	acc := seedAccount(t, db, 10)
	repo := NewBatchRepository(db)

	b := &model.Batch{ID: uuid.NewString(), AccountID: acc, Status: model.BatchStatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, b))

	require.NoError(t, repo.Cancel(ctx, acc, b.ID, time.Now().UTC()))
	assert.ErrorIs(t, repo.MarkRunning(ctx, b.ID, time.Now().UTC()), ErrConflict)
	assert.ErrorIs(t, repo.Cancel(ctx, acc, b.ID, time.Now().UTC()), ErrConflict)
	assert.ErrorIs(t, repo.Cancel(ctx, acc, uuid.NewString(), time.Now().UTC()), ErrNotFound)

	status, err := repo.GetStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCancelled, status)

	got, err := repo.GetByID(ctx, acc, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AttemptIDs)
}
