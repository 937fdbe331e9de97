package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/example/tableside/pkg/config"
	"github.com/example/tableside/pkg/models"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product not available")
)

// Service owns the live menu: products, categories, ingredients, users.
// Orders never reference these rows directly; Snapshot copies them into
// frozen order items at order-creation time.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(cfg *config.MySQLConfig, logger *zap.Logger) (*Service, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Ingredient{},
		&models.Product{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return NewServiceWithDB(db, logger), nil
}

// NewServiceWithDB wraps an existing gorm handle; used by tests and tools.
func NewServiceWithDB(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

func (s *Service) CreateCategory(ctx context.Context, c *models.Category) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	err := s.db.WithContext(ctx).Order("sort_order, name").Find(&out).Error
	return out, err
}

func (s *Service) CreateIngredient(ctx context.Context, i *models.Ingredient) error {
	return s.db.WithContext(ctx).Create(i).Error
}

func (s *Service) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Service) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).
		Preload("Category").
		Preload("Ingredients").
		First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) ListProducts(ctx context.Context, categoryID uint) ([]models.Product, error) {
	q := s.db.WithContext(ctx).Preload("Category").Preload("Ingredients")
	if categoryID != 0 {
		q = q.Where("category_id = ?", categoryID)
	}
	var out []models.Product
	err := q.Order("name").Find(&out).Error
	return out, err
}

func (s *Service) CreateUser(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Line is one requested position of a new order, by live catalog reference.
type Line struct {
	ProductID uint   `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Snapshot freezes the referenced catalog rows into order items. The copies
// keep name, price, category and ingredients as they are right now, so
// later catalog edits never alter the order.
func (s *Service) Snapshot(ctx context.Context, lines []Line) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("product %d: quantity must be positive", line.ProductID)
		}
		p, err := s.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.Available {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, p.Name)
		}

		item := models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Notes:     line.Notes,
			Category: models.CategorySnapshot{
				ID:   p.Category.ID,
				Name: p.Category.Name,
			},
		}
		for _, ing := range p.Ingredients {
			item.Ingredients = append(item.Ingredients, models.IngredientSnapshot{
				ID:   ing.ID,
				Name: ing.Name,
			})
		}
		items = append(items, item)
	}
	return items, nil
}
