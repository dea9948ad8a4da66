package pg

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"dynmodels/internal/orm"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ApplyDDL выполняет map[key]sql в порядке ключей. Ожидается idempotent DDL (create ... if not exists).
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	// стабильно: по ключу
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// игнорируем duplicate_object (42710) и duplicate_table (42P07)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.WithFields(log.Fields{"key": k, "message": strings.TrimSpace(pgErr.Message)}).
					Info("DDL skipped (already exists)")
				continue
			}
			// подстраховка по фразе
			e := strings.ToLower(err.Error())
			if strings.Contains(e, "already exists") {
				log.WithFields(log.Fields{"key": k, "error": err}).Info("DDL skipped (already exists)")
				continue
			}
			return errors.Wrapf(err, "DDL apply failed (%s)", k)
		}
		log.WithField("key", k).Debug("DDL applied")
	}
	return nil
}

// Schema — DDL моделей поверх одного пула соединений.
type Schema struct {
	db *sql.DB
}

func NewSchema(db *sql.DB) *Schema { return &Schema{db: db} }

// Sync создаёт таблицы управляемых моделей.
func (s *Schema) Sync(ctx context.Context, models []*orm.ModelType) error {
	ddl, err := GenerateDDL(models)
	if err != nil {
		return err
	}
	return ApplyDDL(ctx, s.db, ddl)
}

// DropTable удаляет таблицу модели; неуправляемые модели не трогаем.
func (s *Schema) DropTable(ctx context.Context, m *orm.ModelType) error {
	if !Synced(m) {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, DropTableSQL(m)); err != nil {
		return errors.Wrapf(err, "drop table of %s", m.Name())
	}
	log.WithFields(log.Fields{"model": m.Name(), "table": SafeTable(m)}).Info("Table dropped")
	return nil
}
