package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

type mockAdapter struct{ mock pgxmock.PgxPoolIface }

func (a *mockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}
func (a *mockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}
func (a *mockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}
func (a *mockAdapter) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, opts)
}
func (a *mockAdapter) Ping(ctx context.Context) error { return a.mock.Ping(ctx) }
func (a *mockAdapter) Close()                         { a.mock.Close() }

func setupMock(t *testing.T) (pgxmock.PgxPoolIface, *mockAdapter) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, &mockAdapter{mock: mock}
}

func TestRecord_WritesEventAndReturnsID(t *testing.T) {
	mock, adapter := setupMock(t)
	r := New(adapter, 0)

	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := r.Record(context.Background(), gateway.AuditEvent{
		EventType: "authorization",
		Actor:     gateway.Actor{ID: "user-1", Type: gateway.PrincipalHuman},
		Action:    "invoke",
		Decision:  gateway.DecisionAllow,
		Outcome:   gateway.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_ClampsRetentionToMinimum(t *testing.T) {
	_, adapter := setupMock(t)
	r := New(adapter, 24*time.Hour)
	require.Equal(t, MinRetention, r.retention)
}

func TestVerifyIntegrity_DetectsTampering(t *testing.T) {
	event := gateway.AuditEvent{ID: "evt-1", Action: "invoke"}
	hash, err := integrityHash(event)
	require.NoError(t, err)
	event.IntegrityHash = hash

	ok, err := VerifyIntegrity(event)
	require.NoError(t, err)
	require.True(t, ok)

	event.Action = "tampered"
	ok, err = VerifyIntegrity(event)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordPolicyChange_Writes(t *testing.T) {
	mock, adapter := setupMock(t)
	r := New(adapter, 0)

	mock.ExpectExec(`INSERT INTO policy_change_log`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := r.RecordPolicyChange(context.Background(), gateway.PolicyChangeRecord{
		Kind: gateway.PolicyChangeCreated, Version: 1, Actor: "admin", ContentHash: "abc",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
