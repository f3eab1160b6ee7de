package pageio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

// SQLConfig describes the backing table of one resource manager.
type SQLConfig struct {
	// Table is the backing table name, e.g. FLIGHTS.
	Table string
	// KeyColumns are the primary key columns in key order. A single column
	// for prefix and linear indexes, several for composite keys.
	KeyColumns []string
	// VersionColumn holds the commit version. Defaults to "version".
	VersionColumn string
}

// SQL is the relational PageIO: page-in is a range (or key-prefix equality)
// SELECT, page-out is one backend transaction deleting tombstoned rows and
// upserting live ones. Version persistence rides in a dedicated column.
// Backing rows of the page's key domain that the page does not contain are
// left in the table; only tombstoned records cause deletes.
type SQL struct {
	db     *gorm.DB
	cfg    SQLConfig
	index  pageindex.PageIndex
	logger *zap.Logger
}

// NewSQL builds a SQL-backed PageIO over db.
func NewSQL(db *gorm.DB, cfg SQLConfig, index pageindex.PageIndex, logger *zap.Logger) (*SQL, error) {
	if cfg.Table == "" || len(cfg.KeyColumns) == 0 {
		return nil, errcode.Newf(errcode.InvalidArgument, "sql page io: table and key columns are required")
	}
	if cfg.VersionColumn == "" {
		cfg.VersionColumn = "version"
	}
	return &SQL{db: db, cfg: cfg, index: index, logger: logger}, nil
}

func (s *SQL) PageIn(ctx context.Context, pageID string) (*Page, error) {
	var rows []map[string]interface{}
	q := s.db.WithContext(ctx).Table(s.cfg.Table)

	if ix, ok := s.index.(*pageindex.CompositeFixedWidth); ok {
		for i, v := range ix.PrefixValues(pageID) {
			q = q.Where(fmt.Sprintf("%s = ?", s.cfg.KeyColumns[i]), v)
		}
	} else {
		lo, hi := s.index.PageRange(pageID)
		q = q.Where(fmt.Sprintf("%s >= ? AND %s <= ?", s.cfg.KeyColumns[0], s.cfg.KeyColumns[0]), lo, hi)
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(errcode.Newf(errcode.IOError, "page_in %s/%s: %v", s.cfg.Table, pageID, err), "page_in")
	}

	page := NewPage(pageID)
	for _, row := range rows {
		key, err := s.rowKey(row)
		if err != nil {
			return nil, err
		}
		fields := make(map[string]interface{}, len(row))
		for col, v := range row {
			if col == s.cfg.VersionColumn {
				continue
			}
			fields[col] = v
		}
		page.Put(key, &record.Record{
			Key:     key,
			Fields:  fields,
			Version: cast.ToInt64(row[s.cfg.VersionColumn]),
		})
	}
	s.logger.Debug("page_in done",
		zap.String("table", s.cfg.Table),
		zap.String("page", pageID),
		zap.Int("records", len(page.Records)))
	return page, nil
}

func (s *SQL) PageOut(ctx context.Context, page *Page) error {
	if len(page.Records) == 0 {
		return nil
	}

	var deletes, upserts []*record.Record
	for _, key := range page.Keys() {
		rec := page.Records[key]
		if rec.Deleted {
			deletes = append(deletes, rec)
		} else {
			upserts = append(upserts, rec)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range deletes {
			vals, err := s.keyValues(rec)
			if err != nil {
				return err
			}
			preds := make([]string, len(s.cfg.KeyColumns))
			for i, col := range s.cfg.KeyColumns {
				preds[i] = fmt.Sprintf("%s = ?", col)
			}
			del := fmt.Sprintf("DELETE FROM %s WHERE %s", s.cfg.Table, strings.Join(preds, " AND "))
			if err := tx.Exec(del, vals...).Error; err != nil {
				return err
			}
		}
		if len(upserts) == 0 {
			return nil
		}

		columns := s.columnsOf(upserts[0])
		placeholders := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"
		updates := make([]string, 0, len(columns))
		for _, col := range columns {
			if s.isKeyColumn(col) {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
		}

		rowsSQL := make([]string, 0, len(upserts))
		args := make([]interface{}, 0, len(upserts)*len(columns))
		for _, rec := range upserts {
			vals, err := s.columnValues(rec, columns)
			if err != nil {
				return err
			}
			rowsSQL = append(rowsSQL, placeholders)
			args = append(args, vals...)
		}

		upsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
			s.cfg.Table, strings.Join(columns, ", "), strings.Join(rowsSQL, ", "), strings.Join(updates, ", "))
		return tx.Exec(upsert, args...).Error
	})
	if err != nil {
		return errors.Wrapf(errcode.Newf(errcode.IOError, "page_out %s/%s: %v", s.cfg.Table, page.ID, err), "page_out")
	}

	s.logger.Debug("page_out done",
		zap.String("table", s.cfg.Table),
		zap.String("page", page.ID),
		zap.Int("upserts", len(upserts)),
		zap.Int("deletes", len(deletes)))
	return nil
}

// rowKey rebuilds the internal record key from a backing row.
func (s *SQL) rowKey(row map[string]interface{}) (string, error) {
	if ix, ok := s.index.(*pageindex.CompositeFixedWidth); ok {
		vals := make([]string, len(s.cfg.KeyColumns))
		for i, col := range s.cfg.KeyColumns {
			vals[i] = cast.ToString(row[col])
		}
		return ix.EncodeKey(vals...)
	}
	return s.index.Normalize(cast.ToString(row[s.cfg.KeyColumns[0]]))
}

// keyValues resolves a record's primary key column values for predicates.
func (s *SQL) keyValues(rec *record.Record) ([]interface{}, error) {
	if ix, ok := s.index.(*pageindex.CompositeFixedWidth); ok {
		parts, err := ix.DecodeKey(rec.Key)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}
	return []interface{}{rec.Key}, nil
}

// columnsOf derives the deterministic column order for the upsert statement
// from a sample record: key columns first, then the remaining field columns
// sorted, then the version column.
func (s *SQL) columnsOf(sample *record.Record) []string {
	columns := append([]string{}, s.cfg.KeyColumns...)
	fields := make([]string, 0, len(sample.Fields))
	for col := range sample.Fields {
		if !s.isKeyColumn(col) {
			fields = append(fields, col)
		}
	}
	sort.Strings(fields)
	columns = append(columns, fields...)
	return append(columns, s.cfg.VersionColumn)
}

func (s *SQL) columnValues(rec *record.Record, columns []string) ([]interface{}, error) {
	keyVals, err := s.keyValues(rec)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(columns))
	for i, col := range columns {
		switch {
		case i < len(s.cfg.KeyColumns):
			out = append(out, keyVals[i])
		case col == s.cfg.VersionColumn:
			out = append(out, rec.Version)
		default:
			out = append(out, rec.Fields[col])
		}
	}
	return out, nil
}

func (s *SQL) isKeyColumn(col string) bool {
	for _, kc := range s.cfg.KeyColumns {
		if kc == col {
			return true
		}
	}
	return false
}
