package repo

import (
	"context"
	"database/sql"
	"strings"

	"callboard/internal/domain"
)

const callColumns = `id,kind,requester_id,responder_id,discipline,created_at,resolved_at`

func scanCall(row *sql.Row) (domain.Call, error) {
	var c domain.Call
	var responderID sql.NullInt64
	var resolvedAt sql.NullString
	err := row.Scan(&c.ID, &c.Kind, &c.RequesterID, &responderID, &c.Discipline, &c.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if responderID.Valid {
		c.ResponderID = &responderID.Int64
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	return c, nil
}

// InsertCall appends a new open call and returns its surrogate id.
func (r Repo) InsertCall(ctx context.Context, tx *sql.Tx, kind domain.CallKind, requesterID int64, discipline, createdAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO calls(kind,requester_id,discipline,created_at) VALUES (?,?,?,?)`,
		kind, requesterID, discipline, createdAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetCall(ctx context.Context, id int64) (domain.Call, error) {
	return scanCall(r.DB.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id=?`, id))
}

// AssignCall performs the single-winner transition. The NULL guard in the
// WHERE clause makes the write itself the gate: of two racing responders
// exactly one update reports an affected row. Zero rows means either the
// call is already taken or the id is unknown; ErrNotFound covers the latter
// and a nil error with ok=false the former.
func (r Repo) AssignCall(ctx context.Context, tx *sql.Tx, id int64, kind domain.CallKind, responderID int64, resolvedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE calls SET responder_id=?, resolved_at=? WHERE id=? AND kind=? AND responder_id IS NULL`,
		responderID, resolvedAt, id, kind)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM calls WHERE id=? AND kind=?`, id, kind).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	return false, err
}

// DeleteOpenCallsByRequester removes a requester's unanswered calls,
// optionally scoped to one kind, and returns the ids removed. Resolved
// calls are never touched. RETURNING keeps deletion and id reporting in
// one statement, so a call assigned by another writer mid-cancel can
// never be counted as cancelled.
func (r Repo) DeleteOpenCallsByRequester(ctx context.Context, tx *sql.Tx, requesterID int64, kind *domain.CallKind) ([]int64, error) {
	query := `DELETE FROM calls WHERE requester_id=? AND responder_id IS NULL`
	args := []any{requesterID}
	if kind != nil {
		query += ` AND kind=?`
		args = append(args, *kind)
	}
	rows, err := tx.QueryContext(ctx, query+` RETURNING id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CallFilters narrows call listings and open counts.
type CallFilters struct {
	Kind        *domain.CallKind
	RequesterID *int64
	ResponderID *int64
	OpenOnly    bool
	Limit       int
}

func (f CallFilters) clauses() (string, []any) {
	var clauses []string
	var args []any
	if f.Kind != nil {
		clauses = append(clauses, "kind=?")
		args = append(args, *f.Kind)
	}
	if f.RequesterID != nil {
		clauses = append(clauses, "requester_id=?")
		args = append(args, *f.RequesterID)
	}
	if f.ResponderID != nil {
		clauses = append(clauses, "responder_id=?")
		args = append(args, *f.ResponderID)
	}
	if f.OpenOnly {
		clauses = append(clauses, "responder_id IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

func (r Repo) ListCalls(ctx context.Context, f CallFilters) ([]domain.Call, error) {
	where, args := f.clauses()
	query := `SELECT ` + callColumns + ` FROM calls ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Call
	for rows.Next() {
		var c domain.Call
		var responderID sql.NullInt64
		var resolvedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.Kind, &c.RequesterID, &responderID, &c.Discipline, &c.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if responderID.Valid {
			c.ResponderID = &responderID.Int64
		}
		if resolvedAt.Valid {
			c.ResolvedAt = &resolvedAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountOpenCalls counts unanswered calls matching the filter.
func (r Repo) CountOpenCalls(ctx context.Context, f CallFilters) (int, error) {
	f.OpenOnly = true
	where, args := f.clauses()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM calls `+where, args...).Scan(&n)
	return n, err
}
