// Package database はWhatsAppデバイス資格情報の保存先を提供する。
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// 対応するドライバ名
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// ValidateDialect はドライバ名が対応済みかを検証する。
func ValidateDialect(dialect string) error {
	switch dialect {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf("unsupported store dialect %q (want %s or %s)", dialect, DialectSQLite, DialectPostgres)
	}
}

// Open はデバイスストア用のデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認はスキーマ更新時に行われる。
func Open(dialect, dsn string) (*sql.DB, error) {
	if err := ValidateDialect(dialect); err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// DeviceStore はwhatsmeowのストアコンテナと、このプロセスが使う単一デバイス。
type DeviceStore struct {
	Container *sqlstore.Container
	Device    *store.Device
	db        *sql.DB
}

// Paired はデバイスがペアリング済み（QRスキャン不要）かを返す。
func (s *DeviceStore) Paired() bool {
	return s.Device != nil && s.Device.ID != nil
}

// Close はデータベース接続を閉じる。
func (s *DeviceStore) Close() error {
	return s.db.Close()
}

// OpenDeviceStore はデバイスストアを開き、スキーマを最新化して最初のデバイスを読み込む。
// デバイスが存在しない場合は未ペアリングの新規デバイスを返す。
func OpenDeviceStore(ctx context.Context, dialect, dsn string, log waLog.Logger) (*DeviceStore, error) {
	db, err := Open(dialect, dsn)
	if err != nil {
		return nil, err
	}

	container := sqlstore.NewWithDB(db, dialect, log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	return &DeviceStore{Container: container, Device: device, db: db}, nil
}
