package recorder

import (
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
)

func newMockRecorder(t *testing.T) (*MySQLRecorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &MySQLRecorder{db: gormDB}, mock
}

func TestRecordNAVSnapshot(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `nav_snapshots`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	nav := &chainmath.NetNAV{
		GrossNAV:    big.NewInt(1e18),
		NewInterest: big.NewInt(1000),
		Accrued:     big.NewInt(2000),
		TotalValue:  big.NewInt(5e18),
		NetValue:    big.NewInt(4e18),
		NetNAV:      big.NewInt(8e17),
	}

	err := recorder.RecordNAVSnapshot("0xabc", big.NewInt(42), nav)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBark(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `action_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txHash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111")
	err := recorder.RecordBark("0xabc", big.NewInt(7), txHash)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReset(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `action_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txHash := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	err := recorder.RecordReset(big.NewInt(99), txHash)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToString(t *testing.T) {
	require.Equal(t, "0", bigIntToString(nil))
	require.Equal(t, "0", bigIntToString(big.NewInt(0)))
	require.Equal(t, "123456789", bigIntToString(big.NewInt(123456789)))
}

func TestTableNames(t *testing.T) {
	require.Equal(t, "nav_snapshots", NAVSnapshotRecord{}.TableName())
	require.Equal(t, "action_records", ActionRecord{}.TableName())
}
