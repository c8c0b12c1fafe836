package engine

import "context"

// Collection names one of the fixed business record sets covered by backup
// and restore. The values double as the dataset table names and the keys of
// the snapshot document's data section.
type Collection string

const (
	Customers        Collection = "customers"
	Products         Collection = "products"
	Suppliers        Collection = "suppliers"
	ExpensePresets   Collection = "expense_presets"
	Transactions     Collection = "transactions"
	Expenses         Collection = "expenses"
	PaymentReminders Collection = "payment_reminders"
	AccountsPayable  Collection = "accounts_payable"
)

// ParentCollections have no foreign keys into other collections.
var ParentCollections = []Collection{Customers, Products, Suppliers, ExpensePresets}

// ChildCollections reference parent collections by foreign key and must be
// written after them and deleted before them.
var ChildCollections = []Collection{Transactions, Expenses, PaymentReminders, AccountsPayable}

// AllCollections returns every collection in upsert (parent-to-child) order.
func AllCollections() []Collection {
	out := make([]Collection, 0, len(ParentCollections)+len(ChildCollections))
	out = append(out, ParentCollections...)
	out = append(out, ChildCollections...)
	return out
}

// ValidCollection reports whether name is one of the known collections.
func ValidCollection(name Collection) bool {
	for _, c := range AllCollections() {
		if c == name {
			return true
		}
	}
	return false
}

// Record is one business row as carried by a snapshot. The schema is owned by
// the ledger application; the engine only relies on the "id" primary key.
type Record map[string]any

// ID returns the record's primary key, or "" when absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Dataset is the live ledger store the engine exports from and restores into.
type Dataset interface {
	// SelectAll returns all live (not soft-deleted) records of a collection.
	SelectAll(ctx context.Context, c Collection) ([]Record, error)

	// Upsert writes every record by primary key, inserting or replacing.
	Upsert(ctx context.Context, c Collection, records []Record) error

	// SelectAllIDs returns the primary keys of all live records.
	SelectAllIDs(ctx context.Context, c Collection) ([]string, error)

	// DeleteByIDs removes the given records. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, c Collection, ids []string) error
}
