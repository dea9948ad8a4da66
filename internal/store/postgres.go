package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"dynmodels/internal/pg"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS spec_documents (
	collection text  NOT NULL,
	id         text  NOT NULL,
	owner      text  NOT NULL DEFAULT '',
	body       jsonb NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS spec_updated (
	id         text PRIMARY KEY,
	updated_at timestamptz NOT NULL
);`

// Postgres — хранилище спецификаций в таблице spec_documents.
type Postgres struct {
	db *sqlx.DB
}

type docRow struct {
	ID    string `db:"id"`
	Owner string `db:"owner"`
	Body  []byte `db:"body"`
}

// OpenPostgres открывает соединение и создаёт таблицы, если их нет.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	raw, err := pg.Open(ctx, dsn, pg.DefaultPool)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db := sqlx.NewDb(raw, "pgx")
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ensure spec store schema")
	}
	log.WithField("tables", []string{"spec_documents", "spec_updated"}).Debug("Spec store schema ready")
	return &Postgres{db: db}, nil
}

// DB — для DDL моделей поверх того же пула.
func (p *Postgres) DB() *sql.DB { return p.db.DB }

func (p *Postgres) Collection(name string) Collection { return &pgCollection{db: p.db, name: name} }
func (p *Postgres) Stamps() Stamps { return pgStamps{db: p.db} }
func (p *Postgres) Close() error { return p.db.Close() }

type pgCollection struct {
	db   *sqlx.DB
	name string
}

func (c *pgCollection) FindOne(ctx context.Context, id string) (Document, error) {
	var row docRow
	err := c.db.GetContext(ctx, &row,
		`SELECT id, owner, body FROM spec_documents WHERE collection = $1 AND id = $2`, c.name, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", c.name, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find %s/%s", c.name, id)
	}
	return decodeDoc(row.Body)
}

func (c *pgCollection) Find(ctx context.Context) ([]Document, error) {
	var rows []docRow
	if err := c.db.SelectContext(ctx, &rows,
		`SELECT id, owner, body FROM spec_documents WHERE collection = $1 ORDER BY id`, c.name); err != nil {
		return nil, errors.Wrapf(err, "list %s", c.name)
	}
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		d, err := decodeDoc(r.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s/%s", c.name, r.ID)
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *pgCollection) Insert(ctx context.Context, doc Document) error {
	row, err := c.row(doc)
	if err != nil {
		return err
	}
	_, err = c.db.NamedExecContext(ctx,
		`INSERT INTO spec_documents (collection, id, owner, body) VALUES (:collection, :id, :owner, :body)`,
		namedRow{docRow: row, Collection: c.name})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Wrapf(ErrDuplicate, "%s/%s", c.name, row.ID)
	}
	return errors.Wrapf(err, "insert %s/%s", c.name, row.ID)
}

func (c *pgCollection) Save(ctx context.Context, doc Document) error {
	row, err := c.row(doc)
	if err != nil {
		return err
	}
	_, err = c.db.NamedExecContext(ctx,
		`INSERT INTO spec_documents (collection, id, owner, body) VALUES (:collection, :id, :owner, :body)
		 ON CONFLICT (collection, id) DO UPDATE SET owner = EXCLUDED.owner, body = EXCLUDED.body`,
		namedRow{docRow: row, Collection: c.name})
	return errors.Wrapf(err, "save %s/%s", c.name, row.ID)
}

func (c *pgCollection) Remove(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM spec_documents WHERE collection = $1 AND id = $2`, c.name, id)
	if err != nil {
		return errors.Wrapf(err, "remove %s/%s", c.name, id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "%s/%s", c.name, id)
	}
	return nil
}

type namedRow struct {
	docRow
	Collection string `db:"collection"`
}

func (c *pgCollection) row(doc Document) (docRow, error) {
	id, err := docID(doc)
	if err != nil {
		return docRow{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return docRow{}, errors.Wrapf(err, "encode %s/%s", c.name, id)
	}
	return docRow{ID: id, Owner: doc.Owner(), Body: body}, nil
}

type pgStamps struct{ db *sqlx.DB }

func (s pgStamps) Get(ctx context.Context, id string) (time.Time, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t, `SELECT updated_at FROM spec_updated WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrapf(ErrNotFound, "stamp %s", id)
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "read stamp %s", id)
	}
	return t.UTC(), nil
}

func (s pgStamps) Set(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spec_updated (id, updated_at) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`, id, t.UTC())
	return errors.Wrapf(err, "write stamp %s", id)
}
