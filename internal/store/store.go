// Package store persists the customer set of the call queue. Two backends are
// provided: a MySQL table with one row per customer and a SQLite file holding
// the whole set as a single serialized snapshot.
package store

import (
	"context"

	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
)

// Store is the persistence contract of the call queue.
type Store interface {
	// Save overwrites the stored snapshot with the given one.
	Save(ctx context.Context, snapshot model.Snapshot) error
	// Load returns the last saved snapshot. found is false, and err is nil,
	// when nothing has been saved.
	Load(ctx context.Context) (snapshot model.Snapshot, found bool, err error)
	// Clear removes the stored snapshot.
	Clear(ctx context.Context) error
}

// RecordWriter is implemented by stores that can update a single customer
// addressed by its id.
type RecordWriter interface {
	UpdateCustomer(ctx context.Context, customer model.Customer) error
}

// Merger is implemented by stores that can apply an import as separate
// update-existing and insert-new batches.
type Merger interface {
	Merge(ctx context.Context, update []model.Customer, insert []model.Customer, metadata model.Metadata) error
}
