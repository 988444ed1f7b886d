package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
)

const (
	selectAllCustomers = `
		SELECT id, name, phone, last_call, status, note, created_at
		FROM customers
		ORDER BY last_call IS NOT NULL, last_call ASC, id DESC`

	selectMetadata = `
		SELECT file_name, saved_at FROM call_list_meta WHERE id = 1`

	upsertCustomer = `
		INSERT INTO customers (id, name, phone, last_call, status, note, created_at)
		VALUES (:id, :name, :phone, :last_call, :status, :note, :created_at)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			phone = VALUES(phone),
			last_call = VALUES(last_call),
			status = VALUES(status),
			note = VALUES(note)`

	insertCustomer = `
		INSERT INTO customers (id, name, phone, last_call, status, note, created_at)
		VALUES (:id, :name, :phone, :last_call, :status, :note, :created_at)`

	updateCustomer = `
		UPDATE customers
		SET name = :name, phone = :phone, last_call = :last_call, status = :status, note = :note
		WHERE id = :id`

	upsertMetadata = `
		INSERT INTO call_list_meta (id, file_name, saved_at)
		VALUES (1, ?, ?)
		ON DUPLICATE KEY UPDATE file_name = VALUES(file_name), saved_at = VALUES(saved_at)`

	deleteAllCustomers   = `DELETE FROM customers`
	deleteOtherCustomers = `DELETE FROM customers WHERE id NOT IN (?)`
	deleteMetadata       = `DELETE FROM call_list_meta`
)

// metadataRow is the single row of the call_list_meta table.
type metadataRow struct {
	FileName string    `db:"file_name"`
	SavedAt  time.Time `db:"saved_at"`
}

// MySQLStore keeps every customer as a row of the customers table, addressed by id.
// Load returns customers ordered by the database, not by the order they were saved in.
type MySQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	// updateByID is prepared once since it runs after every call outcome.
	updateByID *sqlx.NamedStmt
}

// NewMySQLStore wraps db and prepares the statements used on every call outcome.
func NewMySQLStore(db *sqlx.DB, logger *zap.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	updateByID, err := db.PrepareNamed(updateCustomer)
	if err != nil {
		return nil, fmt.Errorf("could not prepare update statement: %w", err)
	}
	return &MySQLStore{db: db, logger: logger, updateByID: updateByID}, nil
}

// Save upserts every customer, deletes the rows that are no longer part of the
// set and records the metadata, all in one transaction.
func (s *MySQLStore) Save(ctx context.Context, snapshot model.Snapshot) error {
	return s.transact(ctx, func(tx *sqlx.Tx) error {
		for _, c := range snapshot.Customers {
			if _, err := tx.NamedExecContext(ctx, upsertCustomer, c); err != nil {
				return fmt.Errorf("upsert customer %s: %w", c.ID, err)
			}
		}
		if err := deleteMissing(ctx, tx, snapshot.Customers); err != nil {
			return err
		}
		return writeMetadata(ctx, tx, snapshot.Metadata)
	})
}

// Load selects all customers. An empty table is reported as not found.
func (s *MySQLStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var customers []model.Customer
	if err := s.db.SelectContext(ctx, &customers, selectAllCustomers); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("select customers: %w", err)
	}
	if len(customers) == 0 {
		return model.Snapshot{}, false, nil
	}

	var meta metadataRow
	err := s.db.GetContext(ctx, &meta, selectMetadata)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, false, fmt.Errorf("select metadata: %w", err)
	}
	s.logger.Debug("loaded customers from table", zap.Int("count", len(customers)))
	return model.Snapshot{
		Customers: customers,
		Metadata:  model.Metadata{FileName: meta.FileName, SavedAt: meta.SavedAt},
	}, true, nil
}

// Clear deletes all customers and the metadata.
func (s *MySQLStore) Clear(ctx context.Context) error {
	return s.transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteAllCustomers); err != nil {
			return fmt.Errorf("delete customers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteMetadata); err != nil {
			return fmt.Errorf("delete metadata: %w", err)
		}
		return nil
	})
}

// UpdateCustomer writes one customer by id. The row must exist.
func (s *MySQLStore) UpdateCustomer(ctx context.Context, customer model.Customer) error {
	result, err := s.updateByID.ExecContext(ctx, customer)
	if err != nil {
		return fmt.Errorf("update customer %s: %w", customer.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update customer %s: no such row", customer.ID)
	}
	return nil
}

// Merge updates the existing customers and inserts the new ones in one transaction.
func (s *MySQLStore) Merge(ctx context.Context, update []model.Customer, insert []model.Customer, metadata model.Metadata) error {
	return s.transact(ctx, func(tx *sqlx.Tx) error {
		for _, c := range update {
			if _, err := tx.NamedExecContext(ctx, updateCustomer, c); err != nil {
				return fmt.Errorf("update customer %s: %w", c.ID, err)
			}
		}
		for _, c := range insert {
			if _, err := tx.NamedExecContext(ctx, insertCustomer, c); err != nil {
				return fmt.Errorf("insert customer %s: %w", c.ID, err)
			}
		}
		s.logger.Info("merged import into customer table",
			zap.Int("updated", len(update)), zap.Int("inserted", len(insert)))
		return writeMetadata(ctx, tx, metadata)
	})
}

// Close releases the prepared statements.
func (s *MySQLStore) Close() error {
	return s.updateByID.Close()
}

func (s *MySQLStore) transact(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteMissing(ctx context.Context, tx *sqlx.Tx, customers []model.Customer) error {
	if len(customers) == 0 {
		_, err := tx.ExecContext(ctx, deleteAllCustomers)
		return err
	}
	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}
	query, args, err := sqlx.In(deleteOtherCustomers, ids)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete stale customers: %w", err)
	}
	return nil
}

func writeMetadata(ctx context.Context, tx *sqlx.Tx, metadata model.Metadata) error {
	if _, err := tx.ExecContext(ctx, upsertMetadata, metadata.FileName, metadata.SavedAt); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
var _ RecordWriter = (*MySQLStore)(nil)
var _ Merger = (*MySQLStore)(nil)
