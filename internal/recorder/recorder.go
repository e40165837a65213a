// Package recorder persists liquidation-loop NAV snapshots and
// submitted bark/reset action records to MySQL via GORM.
package recorder

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
)

// NAVSnapshotRecord is the database model for one position's
// liquidation-scan NAV computation.
type NAVSnapshotRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"index;not null"`
	Addr       string    `gorm:"index;not null;type:varchar(42)"`
	TokenID    string    `gorm:"not null;type:varchar(78)"`
	GrossNAV   string    `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	NewInterest string   `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	Accrued    string    `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	TotalValue string    `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	NetValue   string    `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	NetNAV     string    `gorm:"not null;type:varchar(78);comment:big.Int as string"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (NAVSnapshotRecord) TableName() string { return "nav_snapshots" }

// ActionRecord is the database model for one submitted bark or reset
// transaction. Exactly one of (Addr, TokenID) or AuctionID is populated,
// depending on ActionType.
type ActionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"index;not null"`
	ActionType string    `gorm:"not null;type:varchar(16);comment:bark or reset"`
	Addr       string    `gorm:"type:varchar(42)"`
	TokenID    string    `gorm:"type:varchar(78)"`
	AuctionID  string    `gorm:"type:varchar(78)"`
	TxHash     string    `gorm:"not null;type:varchar(66)"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (ActionRecord) TableName() string { return "action_records" }

// MySQLRecorder implements actions.Recorder using GORM and MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a MySQL connection and migrates both tables.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: connect to mysql: %w", err)
	}
	return NewMySQLRecorderWithDB(db)
}

// NewMySQLRecorderWithDB wraps an already-open GORM DB, migrating both
// tables before returning.
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&NAVSnapshotRecord{}, &ActionRecord{}); err != nil {
		return nil, fmt.Errorf("recorder: migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// RecordNAVSnapshot persists one position's liquidation-scan result.
func (r *MySQLRecorder) RecordNAVSnapshot(addr string, tokenID *big.Int, nav *chainmath.NetNAV) error {
	record := NAVSnapshotRecord{
		Timestamp:   time.Now(),
		Addr:        addr,
		TokenID:     bigIntToString(tokenID),
		GrossNAV:    bigIntToString(nav.GrossNAV),
		NewInterest: bigIntToString(nav.NewInterest),
		Accrued:     bigIntToString(nav.Accrued),
		TotalValue:  bigIntToString(nav.TotalValue),
		NetValue:    bigIntToString(nav.NetValue),
		NetNAV:      bigIntToString(nav.NetNAV),
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("recorder: record NAV snapshot: %w", result.Error)
	}
	return nil
}

// RecordBark persists one submitted bark transaction.
func (r *MySQLRecorder) RecordBark(addr string, tokenID *big.Int, txHash common.Hash) error {
	record := ActionRecord{
		Timestamp:  time.Now(),
		ActionType: "bark",
		Addr:       addr,
		TokenID:    bigIntToString(tokenID),
		TxHash:     txHash.Hex(),
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("recorder: record bark: %w", result.Error)
	}
	return nil
}

// RecordReset persists one submitted resetAuction transaction.
func (r *MySQLRecorder) RecordReset(auctionID *big.Int, txHash common.Hash) error {
	record := ActionRecord{
		Timestamp:  time.Now(),
		ActionType: "reset",
		AuctionID:  bigIntToString(auctionID),
		TxHash:     txHash.Hex(),
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("recorder: record reset: %w", result.Error)
	}
	return nil
}

// GetDB returns the underlying GORM DB instance for advanced queries.
func (r *MySQLRecorder) GetDB() *gorm.DB {
	return r.db
}

func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("recorder: underlying db: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
