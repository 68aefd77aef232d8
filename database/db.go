package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cedarmint/cedar/cache"
	"github.com/cedarmint/cedar/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		accountCache, errCache := cache.NewCache()
		if errCache != nil {
			// The store works without a cache, every read just hits the
			// database.
			log.Printf("cache unavailable, reads go to the database: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: accountCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "database connection failed")
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createAccountTable(db)
	if err != nil {
		return nil, err
	}
	err = createTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createFraudAuditTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS cedar`)
	return err
}

// createAccountTable creates a PostgreSQL table for the Account struct.
// Balances are NUMERIC so they can carry arbitrary-precision minor units.
func createAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cedar.accounts (
			id SERIAL PRIMARY KEY,
			account_number TEXT NOT NULL UNIQUE,
			customer_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			balance NUMERIC NOT NULL DEFAULT 0,
			credit_balance NUMERIC NOT NULL DEFAULT 0,
			debit_balance NUMERIC NOT NULL DEFAULT 0,
			minimum_balance NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB
		)
	`)
	return err
}

// createTransactionTable creates a PostgreSQL table for the Transaction
// struct. The unique constraint on idempotency_key is what turns a
// duplicate submission into a replay instead of a double spend.
func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cedar.transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			idempotency_key TEXT NOT NULL UNIQUE,
			parent_transaction TEXT,
			source TEXT,
			destination TEXT,
			amount TEXT NOT NULL,
			precise_amount NUMERIC NOT NULL,
			precision BIGINT NOT NULL,
			currency TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			hash TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			hold_expires_at TIMESTAMP,
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_source ON cedar.transactions(source);
		CREATE INDEX IF NOT EXISTS idx_transactions_destination ON cedar.transactions(destination);
		CREATE INDEX IF NOT EXISTS idx_transactions_parent ON cedar.transactions(parent_transaction);
	`)
	return err
}

// createFraudAuditTable creates the append-only fraud verdict log.
func createFraudAuditTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cedar.fraud_audit (
			id SERIAL PRIMARY KEY,
			verdict_id TEXT NOT NULL UNIQUE,
			transaction_id TEXT NOT NULL,
			score NUMERIC NOT NULL,
			outcome TEXT NOT NULL,
			triggered_rules JSONB,
			reasons JSONB,
			evaluated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fraud_audit_transaction ON cedar.fraud_audit(transaction_id);
	`)
	return err
}
