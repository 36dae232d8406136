// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// StatRecord is a row of stat_records.
type StatRecord struct {
	StatType    string
	Identifier  string
	ParamsHash  string
	Params      string
	Payload     []byte
	ComputedAt  time.Time
	ExpiresAt   *time.Time
	AccessCount int64
	Watermark   int64
}

// StatRecordKey addresses one row of stat_records.
type StatRecordKey struct {
	StatType   string
	Identifier string
	ParamsHash string
}

const getStatRecord = `
SELECT stat_type, identifier, params_hash, params, payload, computed_at, expires_at, access_count, watermark
FROM stat_records
WHERE stat_type = ? AND identifier = ? AND params_hash = ?
`

// GetStatRecord returns sql.ErrNoRows when the record does not exist.
func (q *Queries) GetStatRecord(ctx context.Context, key StatRecordKey) (StatRecord, error) {
	row := q.db.QueryRowContext(ctx, getStatRecord, key.StatType, key.Identifier, key.ParamsHash)
	return scanStatRecord(row)
}

// The WHERE clause on the update makes the write conditional: an older
// computation never replaces a newer one.
const upsertStatRecord = `
INSERT INTO stat_records (stat_type, identifier, params_hash, params, payload, computed_at, expires_at, access_count, watermark)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(stat_type, identifier, params_hash) DO UPDATE SET
    params = excluded.params,
    payload = excluded.payload,
    computed_at = excluded.computed_at,
    expires_at = excluded.expires_at,
    watermark = excluded.watermark
WHERE excluded.computed_at >= stat_records.computed_at
`

// UpsertStatRecord writes r unless a newer record exists and reports whether it was stored.
func (q *Queries) UpsertStatRecord(ctx context.Context, r StatRecord) (bool, error) {
	res, err := q.db.ExecContext(ctx, upsertStatRecord,
		r.StatType, r.Identifier, r.ParamsHash, r.Params, r.Payload,
		toMillis(r.ComputedAt), nullMillis(r.ExpiresAt), r.AccessCount, r.Watermark,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const touchStatRecord = `
UPDATE stat_records SET access_count = access_count + 1
WHERE stat_type = ? AND identifier = ? AND params_hash = ?
`

// TouchStatRecord increments the access counter.
func (q *Queries) TouchStatRecord(ctx context.Context, key StatRecordKey) error {
	_, err := q.db.ExecContext(ctx, touchStatRecord, key.StatType, key.Identifier, key.ParamsHash)
	return err
}

const deleteStatRecordsByIdentifier = `
DELETE FROM stat_records WHERE stat_type = ? AND identifier = ?
`

// DeleteStatRecordsByIdentifier removes every params variant of (statType, identifier).
func (q *Queries) DeleteStatRecordsByIdentifier(ctx context.Context, statType, identifier string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteStatRecordsByIdentifier, statType, identifier)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpiredStatRecords = `
DELETE FROM stat_records WHERE expires_at IS NOT NULL AND expires_at <= ?
`

// DeleteExpiredStatRecords removes records that expired at or before now.
func (q *Queries) DeleteExpiredStatRecords(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredStatRecords, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StatRecordOrder selects the sort order of ListStatRecords.
type StatRecordOrder int

const (
	// OrderByAccessCount sorts the most accessed records first.
	OrderByAccessCount StatRecordOrder = iota
	// OrderByComputedAt sorts the oldest computations first.
	OrderByComputedAt
)

// ListStatRecordsParams filters ListStatRecords.
type ListStatRecordsParams struct {
	StatType   string
	Identifier string
	Now        time.Time // records expired at Now are skipped
	OrderBy    StatRecordOrder
	Limit      int
}

// ListStatRecords returns unexpired records.
func (q *Queries) ListStatRecords(ctx context.Context, arg ListStatRecordsParams) ([]StatRecord, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
SELECT stat_type, identifier, params_hash, params, payload, computed_at, expires_at, access_count, watermark
FROM stat_records
WHERE (expires_at IS NULL OR expires_at > ?)`)
	args = append(args, toMillis(arg.Now))

	if arg.StatType != "" {
		sb.WriteString(" AND stat_type = ?")
		args = append(args, arg.StatType)
	}
	if arg.Identifier != "" {
		sb.WriteString(" AND identifier = ?")
		args = append(args, arg.Identifier)
	}

	switch arg.OrderBy {
	case OrderByComputedAt:
		sb.WriteString(" ORDER BY computed_at ASC, stat_type, identifier, params_hash")
	default:
		sb.WriteString(" ORDER BY access_count DESC, stat_type, identifier, params_hash")
	}

	if arg.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, arg.Limit)
	}

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []StatRecord
	for rows.Next() {
		r, err := scanStatRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatRecord(row rowScanner) (StatRecord, error) {
	var (
		r          StatRecord
		computedAt int64
		expiresAt  sql.NullInt64
	)
	err := row.Scan(&r.StatType, &r.Identifier, &r.ParamsHash, &r.Params, &r.Payload,
		&computedAt, &expiresAt, &r.AccessCount, &r.Watermark)
	if err != nil {
		return StatRecord{}, err
	}
	r.ComputedAt = fromMillis(computedAt)
	r.ExpiresAt = fromNullMillis(expiresAt)
	return r, nil
}
