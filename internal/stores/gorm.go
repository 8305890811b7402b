package stores

import (
	"context"
	"errors"
	"time"

	"github.com/loanflow/gatekeeper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// accountRecord is the row layout of the accounts table created by the
// migrations in internal/migration.
type accountRecord struct {
	UserID             string    `gorm:"column:user_id;primaryKey"`
	Email              string    `gorm:"column:email;uniqueIndex;not null"`
	Name               string    `gorm:"column:name;not null"`
	PasswordHash       string    `gorm:"column:password_hash;not null"`
	Role               string    `gorm:"column:role;not null"`
	Verified           bool      `gorm:"column:verified;not null"`
	VerifyOTPCode      string    `gorm:"column:verify_otp_code;not null"`
	VerifyOTPExpiresAt int64     `gorm:"column:verify_otp_expires_at;not null"`
	ResetOTPCode       string    `gorm:"column:reset_otp_code;not null"`
	ResetOTPExpiresAt  int64     `gorm:"column:reset_otp_expires_at;not null"`
	FailedAttempts     int       `gorm:"column:failed_attempts;not null"`
	LockedUntil        int64     `gorm:"column:locked_until;not null"`
	LastLogin          int64     `gorm:"column:last_login;not null"`
	Version            int64     `gorm:"column:version;not null"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (accountRecord) TableName() string {
	return "accounts"
}

// GormStore persists accounts in Postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres opens a gorm handle with duplicate-key errors translated to
// gorm.ErrDuplicatedKey and SQL logging routed through zap.
func OpenPostgres(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger: logger.New(
			zapWriter{log.Named("gorm").Sugar()},
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, unavailable(err)
	}
	return db, nil
}

type zapWriter struct {
	sugar *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.sugar.Infof(format, args...)
}

func (s *GormStore) FindAccountByEmail(ctx context.Context, email string) (gatekeeper.Account, error) {
	var rec accountRecord
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
		}
		return gatekeeper.Account{}, unavailable(err)
	}
	return rec.toAccount(), nil
}

func (s *GormStore) CreateAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	acc.Version = 1
	rec := recordFromAccount(acc)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return gatekeeper.Account{}, gatekeeper.ErrAccountExists
		}
		return gatekeeper.Account{}, unavailable(err)
	}
	return acc, nil
}

// SaveAccount issues UPDATE ... WHERE email = ? AND version = ?. No affected
// row means the version moved on or the account is gone.
func (s *GormStore) SaveAccount(ctx context.Context, acc gatekeeper.Account) (gatekeeper.Account, error) {
	next := acc
	next.Version++

	res := s.db.WithContext(ctx).
		Model(&accountRecord{}).
		Where("email = ? AND version = ?", acc.Email, acc.Version).
		Updates(updateColumns(next))
	if res.Error != nil {
		return gatekeeper.Account{}, unavailable(res.Error)
	}
	if res.RowsAffected == 1 {
		return next, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&accountRecord{}).Where("email = ?", acc.Email).Count(&count).Error; err != nil {
		return gatekeeper.Account{}, unavailable(err)
	}
	if count == 0 {
		return gatekeeper.Account{}, gatekeeper.ErrAccountNotFound
	}
	return gatekeeper.Account{}, gatekeeper.ErrVersionConflict
}

// updateColumns lists every mutable column so zero values (a cleared code,
// a lifted lock) are written too.
func updateColumns(acc gatekeeper.Account) map[string]any {
	return map[string]any{
		"name":                  acc.Name,
		"password_hash":         acc.PasswordHash,
		"role":                  string(acc.Role),
		"verified":              acc.Verified,
		"verify_otp_code":       acc.VerifyOTP.Code,
		"verify_otp_expires_at": acc.VerifyOTP.ExpiresAt,
		"reset_otp_code":        acc.ResetOTP.Code,
		"reset_otp_expires_at":  acc.ResetOTP.ExpiresAt,
		"failed_attempts":       acc.FailedAttempts,
		"locked_until":          acc.LockedUntil,
		"last_login":            acc.LastLogin,
		"version":               acc.Version,
	}
}

func recordFromAccount(acc gatekeeper.Account) accountRecord {
	return accountRecord{
		UserID:             acc.UserID,
		Email:              acc.Email,
		Name:               acc.Name,
		PasswordHash:       acc.PasswordHash,
		Role:               string(acc.Role),
		Verified:           acc.Verified,
		VerifyOTPCode:      acc.VerifyOTP.Code,
		VerifyOTPExpiresAt: acc.VerifyOTP.ExpiresAt,
		ResetOTPCode:       acc.ResetOTP.Code,
		ResetOTPExpiresAt:  acc.ResetOTP.ExpiresAt,
		FailedAttempts:     acc.FailedAttempts,
		LockedUntil:        acc.LockedUntil,
		LastLogin:          acc.LastLogin,
		Version:            acc.Version,
	}
}

func (r accountRecord) toAccount() gatekeeper.Account {
	return gatekeeper.Account{
		UserID:         r.UserID,
		Email:          r.Email,
		Name:           r.Name,
		PasswordHash:   r.PasswordHash,
		Role:           gatekeeper.Role(r.Role),
		Verified:       r.Verified,
		VerifyOTP:      gatekeeper.OTPSlot{Code: r.VerifyOTPCode, ExpiresAt: r.VerifyOTPExpiresAt},
		ResetOTP:       gatekeeper.OTPSlot{Code: r.ResetOTPCode, ExpiresAt: r.ResetOTPExpiresAt},
		FailedAttempts: r.FailedAttempts,
		LockedUntil:    r.LockedUntil,
		LastLogin:      r.LastLogin,
		Version:        r.Version,
	}
}
