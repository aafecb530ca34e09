package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrUserNotFound = errors.New("user not found")

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the MySQL database holding user profiles.
func Open(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

type Product struct {
	ID    int64  `gorm:"column:id_product;primaryKey"`
	Title string `gorm:"column:title"`
}

func (Product) TableName() string { return "Product" }

// ProhibitedProduct links a user to a product they never want to see.
type ProhibitedProduct struct {
	ID        int64 `gorm:"column:id;primaryKey"`
	UserID    int64 `gorm:"column:id_user"`
	ProductID int64 `gorm:"column:id_product"`
}

func (ProhibitedProduct) TableName() string { return "ProductsInProhibited" }

// Preferences are the titles of a user's preferred recipe properties.
// Empty fields mean no preference.
type Preferences struct {
	CookingTime  string `gorm:"column:cooking_time"`
	Difficulty   string `gorm:"column:difficulty"`
	CalorieLevel string `gorm:"column:calorie_level"`
}

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ForbiddenProducts returns the titles of products prohibited by the user.
func (r *Repository) ForbiddenProducts(ctx context.Context, userID int64) ([]string, error) {
	var titles []string
	err := r.db.WithContext(ctx).
		Model(&ProhibitedProduct{}).
		Joins("JOIN Product ON ProductsInProhibited.id_product = Product.id_product").
		Where("ProductsInProhibited.id_user = ?", userID).
		Pluck("Product.title", &titles).Error
	if err != nil {
		return nil, fmt.Errorf("forbidden products of user %d: %w", userID, err)
	}
	return titles, nil
}

// Preferences returns the user's stored recipe preferences.
func (r *Repository) Preferences(ctx context.Context, userID int64) (Preferences, error) {
	var p Preferences
	res := r.db.WithContext(ctx).
		Table("User").
		Select(
			"COALESCE(CookingTime.title, '') AS cooking_time",
			"COALESCE(Difficulty.title, '') AS difficulty",
			"COALESCE(CalorieContent.title, '') AS calorie_level",
		).
		Joins("LEFT JOIN CookingTime ON User.preferences_time = CookingTime.id_cooking_time").
		Joins("LEFT JOIN Difficulty ON User.preferences_difficulty = Difficulty.id_difficulty").
		Joins("LEFT JOIN CalorieContent ON User.preferences_calorie = CalorieContent.id_calorie_content").
		Where("User.id_user = ?", userID).
		Scan(&p)
	if res.Error != nil {
		return Preferences{}, fmt.Errorf("preferences of user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return Preferences{}, fmt.Errorf("preferences of user %d: %w", userID, ErrUserNotFound)
	}
	return p, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
