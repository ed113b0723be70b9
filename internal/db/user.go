package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeRider UserType = "rider"
	UserTypeAdmin UserType = "admin"
)

func (t UserType) Valid() bool {
	return t == UserTypeRider || t == UserTypeAdmin
}

var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

type User struct {
	ID        string    `gorm:"primaryKey"`
	Username  string    `gorm:"uniqueIndex;not null"`
	Password  string    `gorm:"not null"`
	Type      UserType  `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type UserRepository interface {
	CreateUser(ctx context.Context, username, password string, userType UserType) (*User, error)
	ValidateUser(ctx context.Context, username, password string) (*User, error)
	GetUser(ctx context.Context, username string) (*User, error)
}

type userRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUserRepository(db *gorm.DB, logger *zap.Logger) (UserRepository, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users table: %w", err)
	}
	return &userRepository{db: db, logger: logger}, nil
}

func (r *userRepository) CreateUser(ctx context.Context, username, password string, userType UserType) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	if !userType.Valid() {
		return nil, fmt.Errorf("invalid user type %q", userType)
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		r.logger.Debug("user already exists", zap.String("username", username))
		return nil, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{
		ID:       GenerateID(),
		Username: username,
		Password: string(hashed),
		Type:     userType,
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("user created", zap.String("username", username), zap.String("type", string(userType)))
	return &user, nil
}

func (r *userRepository) ValidateUser(ctx context.Context, username, password string) (*User, error) {
	user, err := r.GetUser(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		r.logger.Debug("invalid password", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (r *userRepository) GetUser(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}
