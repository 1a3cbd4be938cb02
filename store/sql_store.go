package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS multisig_account (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	chain_code     TEXT NOT NULL,
	address        TEXT NOT NULL DEFAULT '',
	initiator_addr TEXT NOT NULL DEFAULT '',
	threshold      INTEGER NOT NULL,
	member_num     INTEGER NOT NULL,
	owner          SMALLINT NOT NULL,
	status         SMALLINT NOT NULL,
	address_type   TEXT NOT NULL DEFAULT '',
	salt           TEXT NOT NULL DEFAULT '',
	authority_addr TEXT NOT NULL DEFAULT '',
	deploy_hash    TEXT NOT NULL DEFAULT '',
	fee_hash       TEXT NOT NULL DEFAULT '',
	fee_chain      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS multisig_member (
	account_id TEXT NOT NULL,
	address    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	pubkey     TEXT NOT NULL DEFAULT '',
	confirmed  BOOLEAN NOT NULL DEFAULT FALSE,
	uid        TEXT NOT NULL DEFAULT '',
	is_self    BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (account_id, address)
);

CREATE TABLE IF NOT EXISTS multisig_queue (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	from_addr     TEXT NOT NULL DEFAULT '',
	to_addr       TEXT NOT NULL DEFAULT '',
	value         TEXT NOT NULL DEFAULT '0',
	symbol        TEXT NOT NULL DEFAULT '',
	chain_code    TEXT NOT NULL,
	token_addr    TEXT NOT NULL DEFAULT '',
	expiration    BIGINT NOT NULL DEFAULT 0,
	msg_hash      TEXT NOT NULL DEFAULT '',
	tx_hash       TEXT NOT NULL DEFAULT '',
	raw_data      TEXT NOT NULL DEFAULT '',
	status        SMALLINT NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	fail_reason   TEXT NOT NULL DEFAULT '',
	transfer_type INTEGER NOT NULL DEFAULT 0,
	permission_id TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_multisig_queue_account ON multisig_queue (account_id);
CREATE INDEX IF NOT EXISTS idx_multisig_queue_status ON multisig_queue (status);

CREATE TABLE IF NOT EXISTS multisig_signature (
	queue_id   TEXT NOT NULL,
	address    TEXT NOT NULL,
	signature  TEXT NOT NULL DEFAULT '',
	status     SMALLINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (queue_id, address)
);
`

const (
	upsertAccountSQL = `
INSERT INTO multisig_account (id, name, chain_code, address, initiator_addr, threshold, member_num, owner, status,
	address_type, salt, authority_addr, deploy_hash, fee_hash, fee_chain, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name, address = EXCLUDED.address, initiator_addr = EXCLUDED.initiator_addr,
	threshold = EXCLUDED.threshold, member_num = EXCLUDED.member_num, owner = EXCLUDED.owner,
	status = EXCLUDED.status, address_type = EXCLUDED.address_type, salt = EXCLUDED.salt,
	authority_addr = EXCLUDED.authority_addr, deploy_hash = EXCLUDED.deploy_hash,
	fee_hash = EXCLUDED.fee_hash, fee_chain = EXCLUDED.fee_chain, updated_at = EXCLUDED.updated_at`

	selectAccountSQL = `
SELECT id, name, chain_code, address, initiator_addr, threshold, member_num, owner, status,
	address_type, salt, authority_addr, deploy_hash, fee_hash, fee_chain, created_at, updated_at
FROM multisig_account`

	upsertMemberSQL = `
INSERT INTO multisig_member (account_id, address, name, pubkey, confirmed, uid, is_self)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (account_id, address) DO UPDATE SET
	name = EXCLUDED.name, pubkey = EXCLUDED.pubkey, confirmed = EXCLUDED.confirmed,
	uid = EXCLUDED.uid, is_self = EXCLUDED.is_self`

	upsertQueueSQL = `
INSERT INTO multisig_queue (id, account_id, from_addr, to_addr, value, symbol, chain_code, token_addr, expiration,
	msg_hash, tx_hash, raw_data, status, notes, fail_reason, transfer_type, permission_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (id) DO UPDATE SET
	msg_hash = EXCLUDED.msg_hash, tx_hash = EXCLUDED.tx_hash, raw_data = EXCLUDED.raw_data,
	status = EXCLUDED.status, notes = EXCLUDED.notes, fail_reason = EXCLUDED.fail_reason,
	updated_at = EXCLUDED.updated_at`

	selectQueueSQL = `
SELECT id, account_id, from_addr, to_addr, value, symbol, chain_code, token_addr, expiration,
	msg_hash, tx_hash, raw_data, status, notes, fail_reason, transfer_type, permission_id, created_at, updated_at
FROM multisig_queue`

	upsertSignatureSQL = `
INSERT INTO multisig_signature (queue_id, address, signature, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (queue_id, address) DO UPDATE SET
	signature = EXCLUDED.signature, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	selectSignatureSQL = `
SELECT queue_id, address, signature, status, created_at, updated_at FROM multisig_signature`
)

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// SQLMultisigStore implements MultisigStore on PostgreSQL.
type SQLMultisigStore struct {
	db      *sql.DB
	timeout time.Duration
}

// ConnectDatabase establishes connection to PostgreSQL database with retry mechanism
func ConnectDatabase(databaseURL string) (*sql.DB, error) {
	const maxRetries = 5
	const retryDelay = time.Second * 3

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logx.Warn("SQL_STORE", fmt.Sprintf("Retrying database connection (attempt %d/%d) after error: %v", attempt+1, maxRetries, lastErr))
			time.Sleep(retryDelay)
		}

		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			lastErr = fmt.Errorf("failed to open database connection: %w", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			db.Close()
			lastErr = fmt.Errorf("failed to ping database: %w", err)
			continue
		}

		logx.Info("SQL_STORE", "Database connection established")
		return db, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

// NewSQLMultisigStore wraps db and creates the tables when missing
func NewSQLMultisigStore(db *sql.DB) (*SQLMultisigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	s := &SQLMultisigStore{db: db, timeout: 10 * time.Second}
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("failed to create multisig tables: %w", err)
	}
	return s, nil
}

func (s *SQLMultisigStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SQLMultisigStore) withTx(fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLMultisigStore) SaveAccountData(data *types.MultisigAccountData) error {
	if data == nil || data.Account == nil {
		return fmt.Errorf("account data cannot be nil")
	}
	return s.withTx(func(ctx context.Context, tx *sql.Tx) error {
		if err := upsertAccount(ctx, tx, data.Account); err != nil {
			return err
		}
		for _, m := range data.Members {
			if err := upsertMember(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLMultisigStore) UpsertAccount(account *types.MultisigAccount) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return upsertAccount(ctx, s.db, account)
}

func upsertAccount(ctx context.Context, ex execer, a *types.MultisigAccount) error {
	_, err := ex.ExecContext(ctx, upsertAccountSQL,
		a.ID, a.Name, string(a.ChainCode), a.Address, a.InitiatorAddr, a.Threshold, a.MemberNum,
		int16(a.Owner), int16(a.Status), a.AddressType, a.Salt, a.AuthorityAddr, a.DeployHash,
		a.FeeHash, a.FeeChain, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert multisig account %s: %w", a.ID, err)
	}
	return nil
}

func scanAccount(row rowScanner) (*types.MultisigAccount, error) {
	var (
		a      types.MultisigAccount
		chain  string
		owner  int16
		status int16
	)
	err := row.Scan(&a.ID, &a.Name, &chain, &a.Address, &a.InitiatorAddr, &a.Threshold, &a.MemberNum,
		&owner, &status, &a.AddressType, &a.Salt, &a.AuthorityAddr, &a.DeployHash, &a.FeeHash,
		&a.FeeChain, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ChainCode = types.ChainCode(chain)
	a.Owner = types.OwnerRole(owner)
	a.Status = types.AccountStatus(status)
	return &a, nil
}

func (s *SQLMultisigStore) GetAccount(id string) (*types.MultisigAccount, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	a, err := scanAccount(s.db.QueryRowContext(ctx, selectAccountSQL+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("multisig account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load multisig account %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLMultisigStore) GetAccountData(id string) (*types.MultisigAccountData, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, err
	}
	members, err := s.GetMembers(id)
	if err != nil {
		return nil, err
	}
	return &types.MultisigAccountData{Account: account, Members: members}, nil
}

func (s *SQLMultisigStore) ListAccounts(chain types.ChainCode) ([]*types.MultisigAccount, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	query := selectAccountSQL + ` ORDER BY created_at, id`
	args := []interface{}{}
	if chain != "" {
		query = selectAccountSQL + ` WHERE chain_code = $1 ORDER BY created_at, id`
		args = append(args, string(chain))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list multisig accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*types.MultisigAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan multisig account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLMultisigStore) CountAccounts(chain types.ChainCode) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var n int
	var err error
	if chain == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM multisig_account`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM multisig_account WHERE chain_code = $1`, string(chain)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count multisig accounts: %w", err)
	}
	return n, nil
}

func (s *SQLMultisigStore) UpsertMember(member *types.MultisigMember) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return upsertMember(ctx, s.db, member)
}

func upsertMember(ctx context.Context, ex execer, m *types.MultisigMember) error {
	_, err := ex.ExecContext(ctx, upsertMemberSQL,
		m.AccountID, types.AddressKey(m.Address), m.Name, m.Pubkey, m.Confirmed, m.UID, m.IsSelf)
	if err != nil {
		return fmt.Errorf("failed to upsert member %s/%s: %w", m.AccountID, m.Address, err)
	}
	return nil
}

func (s *SQLMultisigStore) GetMembers(accountID string) ([]*types.MultisigMember, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, address, name, pubkey, confirmed, uid, is_self FROM multisig_member WHERE account_id = $1 ORDER BY address`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", accountID, err)
	}
	defer rows.Close()

	var members []*types.MultisigMember
	for rows.Next() {
		var m types.MultisigMember
		if err := rows.Scan(&m.AccountID, &m.Address, &m.Name, &m.Pubkey, &m.Confirmed, &m.UID, &m.IsSelf); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (s *SQLMultisigStore) SaveQueueData(data *types.MultisigQueueData) error {
	if data == nil || data.Queue == nil {
		return fmt.Errorf("queue data cannot be nil")
	}
	return s.withTx(func(ctx context.Context, tx *sql.Tx) error {
		if err := upsertQueue(ctx, tx, data.Queue); err != nil {
			return err
		}
		for _, sig := range data.Signatures {
			if err := upsertSignature(ctx, tx, sig); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLMultisigStore) UpsertQueue(entry *types.MultisigQueueEntry) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return upsertQueue(ctx, s.db, entry)
}

func upsertQueue(ctx context.Context, ex execer, q *types.MultisigQueueEntry) error {
	_, err := ex.ExecContext(ctx, upsertQueueSQL,
		q.ID, q.AccountID, q.FromAddr, q.ToAddr, q.Value, q.Symbol, string(q.ChainCode), q.TokenAddr,
		q.Expiration, q.MsgHash, q.TxHash, q.RawData, int16(q.Status), q.Notes, q.FailReason,
		q.TransferType, q.PermissionID, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert queue entry %s: %w", q.ID, err)
	}
	return nil
}

func scanQueue(row rowScanner) (*types.MultisigQueueEntry, error) {
	var (
		q      types.MultisigQueueEntry
		chain  string
		status int16
	)
	err := row.Scan(&q.ID, &q.AccountID, &q.FromAddr, &q.ToAddr, &q.Value, &q.Symbol, &chain, &q.TokenAddr,
		&q.Expiration, &q.MsgHash, &q.TxHash, &q.RawData, &status, &q.Notes, &q.FailReason,
		&q.TransferType, &q.PermissionID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.ChainCode = types.ChainCode(chain)
	q.Status = types.QueueStatus(status)
	return &q, nil
}

func (s *SQLMultisigStore) queryQueues(query string, args ...interface{}) ([]*types.MultisigQueueEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.MultisigQueueEntry
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, q)
	}
	return entries, rows.Err()
}

func (s *SQLMultisigStore) GetQueue(id string) (*types.MultisigQueueEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	q, err := scanQueue(s.db.QueryRowContext(ctx, selectQueueSQL+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("multisig queue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entry %s: %w", id, err)
	}
	return q, nil
}

func (s *SQLMultisigStore) GetQueueData(id string) (*types.MultisigQueueData, error) {
	q, err := s.GetQueue(id)
	if err != nil {
		return nil, err
	}
	sigs, err := s.GetSignatures(id)
	if err != nil {
		return nil, err
	}
	return &types.MultisigQueueData{Queue: q, Signatures: sigs}, nil
}

func (s *SQLMultisigStore) ListQueuesByAccount(accountID string) ([]*types.MultisigQueueEntry, error) {
	return s.queryQueues(selectQueueSQL+` WHERE account_id = $1 ORDER BY created_at, id`, accountID)
}

func (s *SQLMultisigStore) ListQueuesByStatus(statuses ...types.QueueStatus) ([]*types.MultisigQueueEntry, error) {
	if len(statuses) == 0 {
		return s.queryQueues(selectQueueSQL + ` ORDER BY created_at, id`)
	}
	codes := make([]int64, len(statuses))
	for i, st := range statuses {
		codes[i] = int64(st)
	}
	return s.queryQueues(selectQueueSQL+` WHERE status = ANY($1) ORDER BY created_at, id`, pq.Array(codes))
}

func (s *SQLMultisigStore) UpsertSignature(sig *types.MultisigSignature) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return upsertSignature(ctx, s.db, sig)
}

func upsertSignature(ctx context.Context, ex execer, sig *types.MultisigSignature) error {
	_, err := ex.ExecContext(ctx, upsertSignatureSQL,
		sig.QueueID, types.AddressKey(sig.Address), sig.Signature, int16(sig.Status), sig.CreatedAt, sig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert signature %s/%s: %w", sig.QueueID, sig.Address, err)
	}
	return nil
}

func scanSignature(row rowScanner) (*types.MultisigSignature, error) {
	var (
		sig    types.MultisigSignature
		status int16
	)
	if err := row.Scan(&sig.QueueID, &sig.Address, &sig.Signature, &status, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.Status = types.SignatureStatus(status)
	return &sig, nil
}

func (s *SQLMultisigStore) GetSignature(queueID, address string) (*types.MultisigSignature, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	sig, err := scanSignature(s.db.QueryRowContext(ctx,
		selectSignatureSQL+` WHERE queue_id = $1 AND address = $2`, queueID, types.AddressKey(address)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("signature %s/%s: %w", queueID, address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signature %s/%s: %w", queueID, address, err)
	}
	return sig, nil
}

func (s *SQLMultisigStore) GetSignatures(queueID string) ([]*types.MultisigSignature, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, selectSignatureSQL+` WHERE queue_id = $1 ORDER BY address`, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures of %s: %w", queueID, err)
	}
	defer rows.Close()

	var sigs []*types.MultisigSignature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

func (s *SQLMultisigStore) Close() error {
	return s.db.Close()
}
