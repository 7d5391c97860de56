package repo

import (
	"context"
	"database/sql"
	"errors"

	"callboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanPerson(row *sql.Row) (domain.Person, error) {
	var p domain.Person
	var discipline sql.NullString
	err := row.Scan(&p.ID, &p.DisplayName, &p.Role, &discipline, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if discipline.Valid {
		p.Discipline = discipline.String
	}
	return p, err
}

// InsertPerson appends a directory record inside the caller's transaction.
func (r Repo) InsertPerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO people(id,display_name,role,discipline,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.DisplayName, p.Role, nullable(p.Discipline), p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	return scanPerson(r.DB.QueryRowContext(ctx, `SELECT id,display_name,role,discipline,created_at FROM people WHERE id=?`, id))
}

func (r Repo) ListPeopleByRole(ctx context.Context, role domain.Role) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,display_name,role,discipline,created_at FROM people WHERE role=?`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeople(rows)
}

func (r Repo) ListPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,display_name,role,discipline,created_at FROM people ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeople(rows)
}

func collectPeople(rows *sql.Rows) ([]domain.Person, error) {
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		var discipline sql.NullString
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Role, &discipline, &p.CreatedAt); err != nil {
			return nil, err
		}
		if discipline.Valid {
			p.Discipline = discipline.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
