package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，注册为 "sqlite"

	"draftfiles/backend/internal/domain"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions 返回服务端数据库的默认连接池参数
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// SQLiteOptions SQLite 只允许单个写连接
func SQLiteOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 0,
	}
}

// PostgresDialector 返回 PostgreSQL dialector
func PostgresDialector(dsn string) gorm.Dialector {
	return postgres.Open(dsn)
}

// MySQLDialector 返回 MySQL dialector
func MySQLDialector(dsn string) gorm.Dialector {
	return mysql.Open(dsn)
}

// SQLiteDialector 返回使用 modernc.org/sqlite 驱动的 dialector
func SQLiteDialector(path string) gorm.Dialector {
	return sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        sqliteDSN(path),
	}
}

// Dialector 根据数据库类型选择 dialector
func Dialector(kind, dsn string) (gorm.Dialector, Options, error) {
	switch kind {
	case "postgres":
		return PostgresDialector(dsn), DefaultOptions(), nil
	case "mysql":
		return MySQLDialector(dsn), DefaultOptions(), nil
	case "sqlite":
		if err := ensureDir(dsn); err != nil {
			return nil, Options{}, err
		}
		return SQLiteDialector(dsn), SQLiteOptions(), nil
	default:
		return nil, Options{}, fmt.Errorf("unsupported database type: %s", kind)
	}
}

// Open 打开数据库连接并配置连接池
func Open(dialector gorm.Dialector, opts Options) (*gorm.DB, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return db, nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translateError 将唯一约束冲突转换为 domain.ErrDuplicateID
func translateError(err error, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}
	// modernc 驱动的错误不经过 dialector 翻译
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}
	return err
}

// sqliteDSN 为文件路径附加忙等待与外键参数
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// ensureDir 确保 SQLite 数据库文件所在目录存在
func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}
