package db

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	ledgerDb *gorm.DB
}

// NewDatabaseManager opens (or creates) the ledger database under dbDir and
// runs migrations.
func NewDatabaseManager(dbDir string) *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB(dbDir)
	return dm
}

func (dm *DatabaseManager) initDB(dbDir string) {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	ledgerPath := filepath.Join(dbDir, "ledger.db")
	ledgerDb, err := gorm.Open(sqlite.Open(ledgerPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to ledger database: %v", err)
	}
	dm.ledgerDb = ledgerDb
	log.Debugf("Ledger database connected successfully, path: %s", ledgerPath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.ledgerDb.AutoMigrate(
		&Utxo{},
		&Transaction{},
		&Block{},
		&VaultDeposit{},
		&VaultWithdrawal{},
		&Receipt{},
		&SystemVar{},
	); err != nil {
		log.Fatalf("Failed to migrate ledger database: %v", err)
	}
}

func (dm *DatabaseManager) GetLedgerDB() *gorm.DB {
	return dm.ledgerDb
}
