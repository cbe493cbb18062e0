package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

const packageColumns = `id, title, COALESCE(description, ''), currency, price_minor_units, credits, is_active, created_at, updated_at`

type PackageRepository struct {
	db *database.DB
}

func NewPackageRepository(db *database.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) List(ctx context.Context) ([]models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.CreditPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, *pkg)
	}
	return packages, rows.Err()
}

// GetDefault returns the oldest active package.
func (r *PackageRepository) GetDefault(ctx context.Context) (*models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages WHERE is_active = 1 ORDER BY id ASC LIMIT 1`
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get default package: %w", err)
	}
	return pkg, nil
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages WHERE id = ?`
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	now := database.Now()
	const query = `
INSERT INTO credit_packages (title, description, currency, price_minor_units, credits, is_active, created_at, updated_at)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, pkg.IsActive, now, now)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
UPDATE credit_packages
SET title = ?, description = NULLIF(?, ''), currency = ?, price_minor_units = ?, credits = ?, is_active = ?, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, pkg.IsActive, database.Now(), pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM credit_packages WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}

func scanPackage(s rowScanner) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := s.Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
		return nil, err
	}
	return &pkg, nil
}
