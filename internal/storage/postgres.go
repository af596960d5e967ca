package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// rows per multi-row insert, well below the postgres parameter limit
const insertChunkSize = 500

type PostgresConnector struct {
	db  *sql.DB
	cfg *config.PostgresConfig
}

func PostgresDSN(cfg *config.PostgresConfig) string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr += fmt.Sprintf(" sslmode=%s", sslMode)

	if cfg.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", cfg.ConnectTimeout)
	}
	return connStr
}

func NewPostgresConnector(cfg *config.PostgresConfig) (*PostgresConnector, error) {
	if cfg.SSLMode == "" {
		log.Info().Msg("No SSL mode specified, defaulting to 'require' for secure connection")
	}
	db, err := sql.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxConnLifetime) * time.Second)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresConnector{
		db:  db,
		cfg: cfg,
	}, nil
}

func (p *PostgresConnector) Close() error {
	return p.db.Close()
}

// Log storage

func (p *PostgresConnector) InsertLogs(ctx context.Context, logs []common.RawLog) (int, error) {
	inserted := 0
	for _, chunk := range common.SliceToChunks(logs, insertChunkSize) {
		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*10)
		for i, l := range chunk {
			n := i * 10
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10))
			valueArgs = append(valueArgs,
				common.NormalizeAddress(l.Address),
				pq.Array(l.Topics),
				l.Data,
				int64(l.BlockNumber),
				l.BlockHash,
				l.BlockTimestamp.UTC(),
				strings.ToLower(l.TransactionHash),
				int64(l.TransactionIndex),
				int64(l.LogIndex),
				l.Removed,
			)
		}
		query := fmt.Sprintf(`INSERT INTO raw_logs (address, topics, data, block_number, block_hash, block_timestamp,
			transaction_hash, transaction_index, log_index, removed)
			VALUES %s
			ON CONFLICT (transaction_hash, log_index) DO NOTHING`, strings.Join(valueStrings, ","))

		res, err := p.db.ExecContext(ctx, query, valueArgs...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert logs: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (p *PostgresConnector) GetUnprocessedLogs(ctx context.Context, limit int) ([]common.RawLog, error) {
	query := `SELECT id, address, topics, data, block_number, block_hash, block_timestamp,
		transaction_hash, transaction_index, log_index, removed
		FROM raw_logs WHERE processed = FALSE
		ORDER BY block_number ASC, log_index ASC, transaction_index ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed logs: %w", err)
	}
	defer rows.Close()

	var logs []common.RawLog
	for rows.Next() {
		var l common.RawLog
		var blockNumber, txIndex, logIndex int64
		if err := rows.Scan(&l.ID, &l.Address, pq.Array(&l.Topics), &l.Data, &blockNumber, &l.BlockHash,
			&l.BlockTimestamp, &l.TransactionHash, &txIndex, &logIndex, &l.Removed); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.BlockNumber = uint64(blockNumber)
		l.TransactionIndex = uint64(txIndex)
		l.LogIndex = uint64(logIndex)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *PostgresConnector) MarkLogsProcessed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return markLogsProcessed(ctx, p.db, ids, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func markLogsProcessed(ctx context.Context, db execer, ids []int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE raw_logs SET processed = TRUE, processed_at = $1 WHERE id = ANY($2)`,
		at.UTC(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark logs processed: %w", err)
	}
	return nil
}

func (p *PostgresConnector) DeleteProcessedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM raw_logs WHERE processed = TRUE AND processed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed logs: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresConnector) GetCheckpoint(ctx context.Context) (*common.SyncCheckpoint, error) {
	query := `SELECT last_processed_block, last_successful_sync, last_error_at, last_error_message,
		total_processed_transactions, total_processed_events, is_syncing, updated_at
		FROM sync_checkpoint WHERE id = 1`

	var cp common.SyncCheckpoint
	var block, txs, events int64
	var lastSync, lastError sql.NullTime
	err := p.db.QueryRowContext(ctx, query).Scan(&block, &lastSync, &lastError, &cp.LastErrorMessage,
		&txs, &events, &cp.IsSyncing, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	cp.LastProcessedBlock = uint64(block)
	cp.TotalProcessedTransactions = uint64(txs)
	cp.TotalProcessedEvents = uint64(events)
	if lastSync.Valid {
		cp.LastSuccessfulSync = &lastSync.Time
	}
	if lastError.Valid {
		cp.LastErrorAt = &lastError.Time
	}
	return &cp, nil
}

func (p *PostgresConnector) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) error {
	query := `INSERT INTO sync_checkpoint (id, last_processed_block, last_successful_sync,
			total_processed_transactions, total_processed_events, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_processed_block = GREATEST(sync_checkpoint.last_processed_block, EXCLUDED.last_processed_block),
			last_successful_sync = EXCLUDED.last_successful_sync,
			total_processed_transactions = sync_checkpoint.total_processed_transactions + EXCLUDED.total_processed_transactions,
			total_processed_events = sync_checkpoint.total_processed_events + EXCLUDED.total_processed_events,
			updated_at = NOW()`
	_, err := p.db.ExecContext(ctx, query, int64(adv.Block), adv.At.UTC(), adv.Transactions, adv.Events)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresConnector) ResetCheckpoint(ctx context.Context, block uint64) error {
	query := `INSERT INTO sync_checkpoint (id, last_processed_block, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block, updated_at = NOW()`
	_, err := p.db.ExecContext(ctx, query, int64(block))
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresConnector) RecordSyncError(ctx context.Context, message string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sync_checkpoint SET last_error_at = $1, last_error_message = $2, updated_at = NOW() WHERE id = 1`,
		at.UTC(), message)
	return err
}

func (p *PostgresConnector) SetSyncing(ctx context.Context, syncing bool) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sync_checkpoint SET is_syncing = $1, updated_at = NOW() WHERE id = 1`, syncing)
	return err
}

// User directory

const userColumns = `id, address, username, profile_image, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*common.User, error) {
	var u common.User
	if err := row.Scan(&u.ID, &u.Address, &u.Username, &u.ProfileImage, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresConnector) FindByAddress(ctx context.Context, address string) (*common.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE address = $1`, common.NormalizeAddress(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (p *PostgresConnector) CreateUser(ctx context.Context, address string) (*common.User, error) {
	query := `INSERT INTO users (address) VALUES ($1)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING ` + userColumns
	u, err := scanUser(p.db.QueryRowContext(ctx, query, common.NormalizeAddress(address)))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// State storage

const tokenColumns = `id, COALESCE(address, ''), name, ticker, total_supply::text, curve,
	curve_k::text, curve_x0::text, curve_y0::text, curve_x1::text, curve_y1::text,
	virtual_x::text, virtual_y::text, price::text, market_cap::text, total_raised::text,
	launched, graduated, donated, pair_address, graduation_tx_hash, COALESCE(creator_id, 0),
	transaction_hash, launched_at, updated_at, graduation_state`

func scanToken(row interface{ Scan(...interface{}) error }) (*common.TokenMarket, error) {
	var t common.TokenMarket
	var supply, k, x0, y0, x1, y1, vx, vy, price, mcap, raised sql.NullString
	var curve string
	var launchedAt sql.NullTime
	var graduationState int16
	err := row.Scan(&t.ID, &t.Address, &t.Name, &t.Ticker, &supply, &curve,
		&k, &x0, &y0, &x1, &y1,
		&vx, &vy, &price, &mcap, &raised,
		&t.Launched, &t.Graduated, &t.Donated, &t.PairAddress, &t.GraduationTxHash, &t.CreatorID,
		&t.TransactionHash, &launchedAt, &t.UpdatedAt, &graduationState)
	if err != nil {
		return nil, err
	}
	t.Curve = common.CurveClass(curve)
	t.GraduationState = common.GraduationState(graduationState)
	t.TotalSupply = parseNumeric(supply)
	t.CurveParams = common.CurveParams{
		K:  parseNumeric(k),
		X0: parseNumeric(x0),
		Y0: parseNumeric(y0),
		X1: parseNumeric(x1),
		Y1: parseNumeric(y1),
	}
	t.VirtualX = parseNumeric(vx)
	t.VirtualY = parseNumeric(vy)
	t.Price = parseNumeric(price)
	t.MarketCap = parseNumeric(mcap)
	t.TotalRaised = parseNumeric(raised)
	if launchedAt.Valid {
		t.LaunchedAt = &launchedAt.Time
	}
	return &t, nil
}

func parseNumeric(s sql.NullString) *big.Int {
	if !s.Valid {
		return nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		log.Warn().Msgf("Failed to parse numeric value %q", s.String)
		return nil
	}
	return v
}

func numericArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func (p *PostgresConnector) GetTokenByAddress(ctx context.Context, address string) (*common.TokenMarket, error) {
	t, err := scanToken(p.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE address = $1`, common.NormalizeAddress(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (p *PostgresConnector) FindPendingToken(ctx context.Context, txHash string, creatorID int64) (*common.TokenMarket, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens
		WHERE transaction_hash = $1 AND creator_id = $2 AND launched = FALSE
		ORDER BY id ASC LIMIT 1`
	t, err := scanToken(p.db.QueryRowContext(ctx, query, strings.ToLower(txHash), creatorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending token: %w", err)
	}
	return t, nil
}

func (p *PostgresConnector) GetAppliedEventKeys(ctx context.Context, keys []common.EventKey) (map[common.EventKey]bool, error) {
	applied := make(map[common.EventKey]bool)
	if len(keys) == 0 {
		return applied, nil
	}
	hashes := make([]string, len(keys))
	indexes := make([]int64, len(keys))
	for i, k := range keys {
		hashes[i] = k.TransactionHash
		indexes[i] = int64(k.LogIndex)
	}
	query := `WITH wanted AS (SELECT * FROM unnest($1::text[], $2::bigint[]) AS w(transaction_hash, log_index))
		SELECT t.transaction_hash, t.log_index FROM trades t JOIN wanted w USING (transaction_hash, log_index)
		UNION
		SELECT a.transaction_hash, a.log_index FROM activities a JOIN wanted w USING (transaction_hash, log_index)`
	rows, err := p.db.QueryContext(ctx, query, pq.Array(hashes), pq.Array(indexes))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hash string
		var index int64
		if err := rows.Scan(&hash, &index); err != nil {
			return nil, err
		}
		applied[common.NewEventKey(hash, uint64(index))] = true
	}
	return applied, rows.Err()
}

func (p *PostgresConnector) GetHolderBalances(ctx context.Context, tokenID int64, holderIDs []int64) (map[int64]*big.Int, error) {
	balances := make(map[int64]*big.Int)
	if len(holderIDs) == 0 {
		return balances, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT holder_id, balance::text FROM holders WHERE token_id = $1 AND holder_id = ANY($2)`,
		tokenID, pq.Array(holderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query holder balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var holderID int64
		var balance sql.NullString
		if err := rows.Scan(&holderID, &balance); err != nil {
			return nil, err
		}
		balances[holderID] = common.BigOrZero(parseNumeric(balance))
	}
	return balances, rows.Err()
}

func (p *PostgresConnector) GetTradeVolumeSince(ctx context.Context, tokenID int64, since time.Time) (*big.Int, error) {
	var volume sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(quote_amount), 0)::text FROM trades WHERE token_id = $1 AND timestamp >= $2`,
		tokenID, since.UTC()).Scan(&volume)
	if err != nil {
		return nil, fmt.Errorf("failed to sum trade volume: %w", err)
	}
	return common.BigOrZero(parseNumeric(volume)), nil
}

func (p *PostgresConnector) CommitGroup(ctx context.Context, commit *common.GroupCommit) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin group commit: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Str("token", commit.TokenAddress).Msg("Failed to roll back group commit")
			}
		}
	}()

	var tokenID int64
	if commit.Token != nil {
		if tokenID, err = upsertToken(ctx, tx, commit.Token); err != nil {
			return err
		}
	}
	resolve := func(id int64) (int64, error) {
		if id != 0 {
			return id, nil
		}
		if tokenID == 0 {
			return 0, fmt.Errorf("ledger row for %s references an uncommitted token", commit.TokenAddress)
		}
		return tokenID, nil
	}

	if err = insertTrades(ctx, tx, commit.Trades, resolve); err != nil {
		return err
	}
	if err = insertActivities(ctx, tx, commit.Activities, resolve); err != nil {
		return err
	}
	if err = upsertHolders(ctx, tx, commit.Holders, resolve); err != nil {
		return err
	}
	if len(commit.ProcessedLogIDs) > 0 {
		if err = markLogsProcessed(ctx, tx, commit.ProcessedLogIDs, commit.ProcessedAt); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group %s: %w", commit.TokenAddress, err)
	}
	if commit.Token != nil {
		commit.Token.ID = tokenID
	}
	return nil
}

func (p *PostgresConnector) GetTokensAwaitingGraduation(ctx context.Context, limit int) ([]*common.TokenMarket, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens
		WHERE graduation_state = $1 AND graduated = FALSE
		ORDER BY id`
	args := []interface{}{int16(common.GraduationDue)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens awaiting graduation: %w", err)
	}
	defer rows.Close()

	var tokens []*common.TokenMarket
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *PostgresConnector) ClaimGraduation(ctx context.Context, tokenID int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE tokens SET graduation_state = $1, updated_at = NOW()
		WHERE id = $2 AND graduation_state = $3 AND graduated = FALSE`,
		int16(common.GraduationSubmitting), tokenID, int16(common.GraduationDue))
	if err != nil {
		return false, fmt.Errorf("failed to claim graduation of token %d: %w", tokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim graduation of token %d: %w", tokenID, err)
	}
	return n == 1, nil
}

func (p *PostgresConnector) SetGraduationResult(ctx context.Context, tokenID int64, state common.GraduationState, txHash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE tokens SET graduation_state = $1,
			graduation_tx_hash = COALESCE(NULLIF($2, ''), graduation_tx_hash), updated_at = NOW()
		WHERE id = $3`, int16(state), txHash, tokenID)
	if err != nil {
		return fmt.Errorf("failed to record graduation of token %d: %w", tokenID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("token id %d: %w", tokenID, ErrNotFound)
	}
	return nil
}

func upsertToken(ctx context.Context, tx *sql.Tx, t *common.TokenMarket) (int64, error) {
	args := []interface{}{
		nullableAddress(t.Address), t.Name, t.Ticker, numericArg(common.BigOrZero(t.TotalSupply)), string(t.Curve),
		numericArg(t.CurveParams.K), numericArg(t.CurveParams.X0), numericArg(t.CurveParams.Y0),
		numericArg(t.CurveParams.X1), numericArg(t.CurveParams.Y1),
		numericArg(common.BigOrZero(t.VirtualX)), numericArg(common.BigOrZero(t.VirtualY)),
		numericArg(common.BigOrZero(t.Price)), numericArg(common.BigOrZero(t.MarketCap)), numericArg(common.BigOrZero(t.TotalRaised)),
		t.Launched, t.Graduated, t.Donated, t.PairAddress, t.GraduationTxHash, nullableID(t.CreatorID),
		strings.ToLower(t.TransactionHash), t.LaunchedAt, int16(t.GraduationState),
	}
	var id int64
	var err error
	if t.ID == 0 {
		query := `INSERT INTO tokens (address, name, ticker, total_supply, curve,
				curve_k, curve_x0, curve_y0, curve_x1, curve_y1,
				virtual_x, virtual_y, price, market_cap, total_raised,
				launched, graduated, donated, pair_address, graduation_tx_hash, creator_id,
				transaction_hash, launched_at, graduation_state, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW())
			ON CONFLICT (address) DO UPDATE SET
				name = EXCLUDED.name, ticker = EXCLUDED.ticker, total_supply = EXCLUDED.total_supply, curve = EXCLUDED.curve,
				curve_k = EXCLUDED.curve_k, curve_x0 = EXCLUDED.curve_x0, curve_y0 = EXCLUDED.curve_y0,
				curve_x1 = EXCLUDED.curve_x1, curve_y1 = EXCLUDED.curve_y1,
				virtual_x = EXCLUDED.virtual_x, virtual_y = EXCLUDED.virtual_y, price = EXCLUDED.price,
				market_cap = EXCLUDED.market_cap, total_raised = EXCLUDED.total_raised,
				launched = EXCLUDED.launched, graduated = EXCLUDED.graduated, donated = EXCLUDED.donated,
				pair_address = EXCLUDED.pair_address,
				graduation_tx_hash = COALESCE(NULLIF(EXCLUDED.graduation_tx_hash, ''), tokens.graduation_tx_hash),
				graduation_state = GREATEST(tokens.graduation_state, EXCLUDED.graduation_state),
				creator_id = EXCLUDED.creator_id, transaction_hash = EXCLUDED.transaction_hash,
				launched_at = EXCLUDED.launched_at, updated_at = NOW()
			RETURNING id`
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		query := `UPDATE tokens SET address = $1, name = $2, ticker = $3, total_supply = $4, curve = $5,
				curve_k = $6, curve_x0 = $7, curve_y0 = $8, curve_x1 = $9, curve_y1 = $10,
				virtual_x = $11, virtual_y = $12, price = $13, market_cap = $14, total_raised = $15,
				launched = $16, graduated = $17, donated = $18, pair_address = $19,
				graduation_tx_hash = COALESCE(NULLIF($20, ''), graduation_tx_hash),
				creator_id = $21, transaction_hash = $22, launched_at = $23,
				graduation_state = GREATEST(graduation_state, $24), updated_at = NOW()
			WHERE id = $25
			RETURNING id`
		err = tx.QueryRowContext(ctx, query, append(args, t.ID)...).Scan(&id)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("token %s: %w", t.Address, ErrDuplicateKey)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("token id %d: %w", t.ID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to upsert token %s: %w", t.Address, err)
	}
	return id, nil
}

func insertTrades(ctx context.Context, tx *sql.Tx, trades []common.TradeRecord, resolve func(int64) (int64, error)) error {
	for _, chunk := range common.SliceToChunks(trades, insertChunkSize) {
		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*9)
		for i, t := range chunk {
			tokenID, err := resolve(t.TokenID)
			if err != nil {
				return err
			}
			n := i * 9
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9))
			valueArgs = append(valueArgs, tokenID, t.TraderID, string(t.Direction),
				numericArg(common.BigOrZero(t.QuoteAmount)), numericArg(common.BigOrZero(t.TokenAmount)),
				strings.ToLower(t.TransactionHash), int64(t.LogIndex), int64(t.BlockNumber), t.Timestamp.UTC())
		}
		query := fmt.Sprintf(`INSERT INTO trades (token_id, trader_id, direction, quote_amount, token_amount,
				transaction_hash, log_index, block_number, timestamp)
			VALUES %s
			ON CONFLICT (transaction_hash, log_index) DO NOTHING`, strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return fmt.Errorf("failed to insert trades: %w", err)
		}
	}
	return nil
}

func insertActivities(ctx context.Context, tx *sql.Tx, activities []common.ActivityRecord, resolve func(int64) (int64, error)) error {
	for _, chunk := range common.SliceToChunks(activities, insertChunkSize) {
		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*8)
		for i, a := range chunk {
			tokenID, err := resolve(a.TokenID)
			if err != nil {
				return err
			}
			n := i * 8
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))
			valueArgs = append(valueArgs, a.UserID, tokenID, string(a.Type),
				numericArg(common.BigOrZero(a.QuoteAmount)), numericArg(common.BigOrZero(a.TokenAmount)),
				strings.ToLower(a.TransactionHash), int64(a.LogIndex), a.Timestamp.UTC())
		}
		query := fmt.Sprintf(`INSERT INTO activities (user_id, token_id, type, quote_amount, token_amount,
				transaction_hash, log_index, timestamp)
			VALUES %s
			ON CONFLICT (transaction_hash, log_index) DO NOTHING`, strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return fmt.Errorf("failed to insert activities: %w", err)
		}
	}
	return nil
}

func upsertHolders(ctx context.Context, tx *sql.Tx, holders []common.HolderBalance, resolve func(int64) (int64, error)) error {
	for _, chunk := range common.SliceToChunks(holders, insertChunkSize) {
		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*3)
		for i, h := range chunk {
			tokenID, err := resolve(h.TokenID)
			if err != nil {
				return err
			}
			n := i * 3
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, NOW())", n+1, n+2, n+3))
			valueArgs = append(valueArgs, tokenID, h.HolderID, numericArg(common.BigOrZero(h.Balance)))
		}
		query := fmt.Sprintf(`INSERT INTO holders (token_id, holder_id, balance, updated_at)
			VALUES %s
			ON CONFLICT (token_id, holder_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`,
			strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return fmt.Errorf("failed to upsert holders: %w", err)
		}
	}
	return nil
}

func nullableAddress(address string) interface{} {
	if address == "" {
		return nil
	}
	return common.NormalizeAddress(address)
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
