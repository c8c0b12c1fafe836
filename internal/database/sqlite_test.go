package database_test

import (
	"context"
	"testing"
	"time"

	"ledgerback/internal/engine"
	"ledgerback/internal/testutil"
)

func rec(id string, extra ...string) engine.Record {
	r := engine.Record{"id": id}
	for i := 0; i+1 < len(extra); i += 2 {
		r[extra[i]] = extra[i+1]
	}
	return r
}

func TestSQLiteDatabase_Dataset(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert and select round-trip", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		err := db.Upsert(ctx, engine.Customers, []engine.Record{
			rec("c2", "name", "Borges"),
			rec("c1", "name", "Ada"),
		})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		records, err := db.SelectAll(ctx, engine.Customers)
		if err != nil {
			t.Fatalf("SelectAll() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %d, want 2", len(records))
		}
		if records[0].ID() != "c1" || records[1].ID() != "c2" {
			t.Errorf("order = %s, %s; want id order", records[0].ID(), records[1].ID())
		}
		if records[0]["name"] != "Ada" {
			t.Errorf("name = %v, want Ada", records[0]["name"])
		}
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if err := db.Upsert(ctx, engine.Products, []engine.Record{rec("p1", "name", "old")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := db.Upsert(ctx, engine.Products, []engine.Record{rec("p1", "name", "new")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		records, err := db.SelectAll(ctx, engine.Products)
		if err != nil {
			t.Fatalf("SelectAll() error = %v", err)
		}
		if len(records) != 1 || records[0]["name"] != "new" {
			t.Errorf("records = %v, want single updated record", records)
		}
	})

	t.Run("rejects a record without an id", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		err := db.Upsert(ctx, engine.Customers, []engine.Record{{"name": "nobody"}})
		if err == nil {
			t.Fatal("Upsert() expected error for record without id")
		}
	})

	t.Run("rejects an unknown collection", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if _, err := db.SelectAll(ctx, engine.Collection("widgets")); err == nil {
			t.Error("SelectAll() expected error for unknown collection")
		}
		if err := db.Upsert(ctx, engine.Collection("widgets"), []engine.Record{rec("w1")}); err == nil {
			t.Error("Upsert() expected error for unknown collection")
		}
	})

	t.Run("select ids and delete by ids", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if err := db.Upsert(ctx, engine.Suppliers, []engine.Record{rec("s1"), rec("s2"), rec("s3")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		if err := db.DeleteByIDs(ctx, engine.Suppliers, []string{"s1", "s3", "s-missing"}); err != nil {
			t.Fatalf("DeleteByIDs() error = %v", err)
		}

		ids, err := db.SelectAllIDs(ctx, engine.Suppliers)
		if err != nil {
			t.Fatalf("SelectAllIDs() error = %v", err)
		}
		if len(ids) != 1 || ids[0] != "s2" {
			t.Errorf("ids = %v, want [s2]", ids)
		}
	})

	t.Run("soft-deleted rows are invisible until re-upserted", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if err := db.Upsert(ctx, engine.Customers, []engine.Record{rec("c1")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if _, err := db.DB().Exec("UPDATE customers SET deleted = 1 WHERE id = 'c1'"); err != nil {
			t.Fatalf("marking row deleted: %v", err)
		}

		records, err := db.SelectAll(ctx, engine.Customers)
		if err != nil {
			t.Fatalf("SelectAll() error = %v", err)
		}
		if len(records) != 0 {
			t.Fatalf("records = %d, want soft-deleted row hidden", len(records))
		}

		if err := db.Upsert(ctx, engine.Customers, []engine.Record{rec("c1")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		records, err = db.SelectAll(ctx, engine.Customers)
		if err != nil {
			t.Fatalf("SelectAll() error = %v", err)
		}
		if len(records) != 1 {
			t.Errorf("records = %d, want re-upsert to undelete", len(records))
		}
	})
}

func TestSQLiteDatabase_ForeignKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("child referencing a missing parent is rejected", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		err := db.Upsert(ctx, engine.Transactions, []engine.Record{
			rec("t1", "customer_id", "c-missing"),
		})
		if err == nil {
			t.Fatal("Upsert() expected foreign key violation")
		}
	})

	t.Run("deleting a parent with children is rejected", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if err := db.Upsert(ctx, engine.Customers, []engine.Record{rec("c1")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := db.Upsert(ctx, engine.Transactions, []engine.Record{rec("t1", "customer_id", "c1")}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		if err := db.DeleteByIDs(ctx, engine.Customers, []string{"c1"}); err == nil {
			t.Fatal("DeleteByIDs() expected foreign key violation")
		}

		// Child first, then the parent, mirroring the prune order.
		if err := db.DeleteByIDs(ctx, engine.Transactions, []string{"t1"}); err != nil {
			t.Fatalf("DeleteByIDs(transactions) error = %v", err)
		}
		if err := db.DeleteByIDs(ctx, engine.Customers, []string{"c1"}); err != nil {
			t.Fatalf("DeleteByIDs(customers) error = %v", err)
		}
	})

	t.Run("a child without a parent reference is allowed", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if err := db.Upsert(ctx, engine.Expenses, []engine.Record{rec("e1")}); err != nil {
			t.Fatalf("Upsert() error = %v, want NULL reference accepted", err)
		}
	})
}

func TestSQLiteDatabase_CredentialStore(t *testing.T) {
	t.Run("round-trips a credential", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		expiry := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
		err := db.Put(&engine.Credential{
			AccessToken:  "tok-1",
			AccessExpiry: expiry,
			RefreshToken: "refresh-1",
			AcquiredVia:  engine.GrantAuthCode,
		})
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		cred, err := db.Get()
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if cred == nil {
			t.Fatal("Get() = nil, want stored credential")
		}
		if cred.AccessToken != "tok-1" || cred.RefreshToken != "refresh-1" {
			t.Errorf("credential = %+v", cred)
		}
		if !cred.AccessExpiry.Equal(expiry) {
			t.Errorf("expiry = %v, want %v", cred.AccessExpiry, expiry)
		}
		if cred.AcquiredVia != engine.GrantAuthCode {
			t.Errorf("acquired via = %q, want auth_code", cred.AcquiredVia)
		}

		if err := db.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if cred, _ := db.Get(); cred != nil {
			t.Errorf("Get() after Clear = %+v, want nil", cred)
		}
	})

	t.Run("empty store reads as nil", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		cred, err := db.Get()
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if cred != nil {
			t.Errorf("Get() = %+v, want nil", cred)
		}
	})

	t.Run("reads the pre-1.0 key format", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		seed := func(key, value string) {
			if _, err := db.DB().Exec("INSERT INTO settings (key, value) VALUES (?, ?)", key, value); err != nil {
				t.Fatalf("seeding %s: %v", key, err)
			}
		}
		seed("gdrive_access_token", "legacy-tok")
		seed("gdrive_token_expiry", "2024-01-15T12:00:00Z")

		cred, err := db.GetLegacy()
		if err != nil {
			t.Fatalf("GetLegacy() error = %v", err)
		}
		if cred == nil || cred.AccessToken != "legacy-tok" {
			t.Fatalf("GetLegacy() = %+v", cred)
		}
		if cred.AcquiredVia != engine.GrantLegacy {
			t.Errorf("acquired via = %q, want legacy", cred.AcquiredVia)
		}
		want := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
		if !cred.AccessExpiry.Equal(want) {
			t.Errorf("expiry = %v, want %v", cred.AccessExpiry, want)
		}

		if err := db.ClearLegacy(); err != nil {
			t.Fatalf("ClearLegacy() error = %v", err)
		}
		if cred, _ := db.GetLegacy(); cred != nil {
			t.Errorf("GetLegacy() after clear = %+v, want nil", cred)
		}
	})

	t.Run("legacy token with an unreadable expiry is unusable", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)

		if _, err := db.DB().Exec("INSERT INTO settings (key, value) VALUES ('gdrive_access_token', 'legacy-tok')"); err != nil {
			t.Fatalf("seeding token: %v", err)
		}

		cred, err := db.GetLegacy()
		if err != nil {
			t.Fatalf("GetLegacy() error = %v", err)
		}
		if cred != nil {
			t.Errorf("GetLegacy() = %+v, want nil without a parseable expiry", cred)
		}
	})
}

func TestSQLiteDatabase_Settings(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	enabled, err := db.AutoBackupEnabled()
	if err != nil {
		t.Fatalf("AutoBackupEnabled() error = %v", err)
	}
	if enabled {
		t.Error("auto backup enabled by default, want disabled")
	}

	if err := db.SetAutoBackupEnabled(true); err != nil {
		t.Fatalf("SetAutoBackupEnabled() error = %v", err)
	}
	if enabled, _ = db.AutoBackupEnabled(); !enabled {
		t.Error("AutoBackupEnabled() = false after enabling")
	}

	if day, _ := db.LastAutoBackupDay(); day != "" {
		t.Errorf("LastAutoBackupDay() = %q, want empty", day)
	}
	if err := db.SetLastAutoBackupDay("2024-01-15"); err != nil {
		t.Fatalf("SetLastAutoBackupDay() error = %v", err)
	}
	if day, _ := db.LastAutoBackupDay(); day != "2024-01-15" {
		t.Errorf("LastAutoBackupDay() = %q, want 2024-01-15", day)
	}
}

func TestSQLiteDatabase_OperationLog(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	id1, err := db.CreateOperation("backup")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	id2, err := db.CreateOperation("restore")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	if err := db.FinishOperation(id1, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := db.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("operations = %d, want 2", len(ops))
	}
	if ops[0].ID != id2 || ops[0].Operation != "restore" || ops[0].Status != "running" {
		t.Errorf("ops[0] = %+v, want running restore first", ops[0])
	}
	if ops[1].ID != id1 || ops[1].Status != "success" {
		t.Errorf("ops[1] = %+v, want finished backup", ops[1])
	}
	if ops[1].FinishedAt == nil {
		t.Error("finished operation has no FinishedAt")
	}
	if ops[0].FinishedAt != nil {
		t.Error("running operation has a FinishedAt")
	}

	limited, err := db.ListOperations(1)
	if err != nil {
		t.Fatalf("ListOperations(1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != id2 {
		t.Errorf("limited = %+v, want only the newest", limited)
	}
}
