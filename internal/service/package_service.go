package service

import (
	"context"
	"fmt"

	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

type PackageService struct {
	cfg  config.Config
	repo *repository.PackageRepository
}

type CreatePackageInput struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"priceMinorUnits"`
	Credits         int64  `json:"credits"`
	IsActive        *bool  `json:"isActive"`
}

type UpdatePackageInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"priceMinorUnits"`
	Credits         *int64  `json:"credits"`
	IsActive        *bool   `json:"isActive"`
}

func NewPackageService(cfg config.Config, repo *repository.PackageRepository) *PackageService {
	return &PackageService{cfg: cfg, repo: repo}
}

// EnsureDefaultPackage creates the configured starter bundle when no active package exists.
func (s *PackageService) EnsureDefaultPackage(ctx context.Context) error {
	pkg, err := s.repo.GetDefault(ctx)
	if err != nil {
		return err
	}
	if pkg != nil {
		return nil
	}
	defaultPackage := &models.CreditPackage{
		Title:           "Credit pack",
		Description:     fmt.Sprintf("%d generation credits", s.cfg.PaymentCreditsPerPackage),
		Currency:        s.cfg.PaymentCurrency,
		PriceMinorUnits: s.cfg.PaymentPriceMinorUnits,
		Credits:         s.cfg.PaymentCreditsPerPackage,
		IsActive:        true,
	}
	if _, err := s.repo.Create(ctx, defaultPackage); err != nil {
		return fmt.Errorf("create default package: %w", err)
	}
	return nil
}

func (s *PackageService) List(ctx context.Context) ([]models.CreditPackage, error) {
	packages, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if packages == nil {
		packages = []models.CreditPackage{}
	}
	return packages, nil
}

func (s *PackageService) Create(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error) {
	if input.Title == "" {
		return nil, models.NewValidationError("title", "is required")
	}
	if input.Currency == "" {
		input.Currency = s.cfg.PaymentCurrency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, models.NewValidationError("priceMinorUnits", "must be positive")
	}
	if input.Credits <= 0 {
		return nil, models.NewValidationError("credits", "must be positive")
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	pkg := models.CreditPackage{
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &pkg)
}

func (s *PackageService) Update(ctx context.Context, id int64, input UpdatePackageInput) (*models.CreditPackage, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, models.ErrPackageNotFound
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackageService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PackageService) GetDefault(ctx context.Context) (*models.CreditPackage, error) {
	return s.repo.GetDefault(ctx)
}

// Resolve returns the package with id, falling back to the default one when id is unknown.
func (s *PackageService) Resolve(ctx context.Context, id int64) (*models.CreditPackage, error) {
	if id > 0 {
		pkg, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get package: %w", err)
		}
		if pkg != nil {
			return pkg, nil
		}
	}
	pkg, err := s.repo.GetDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("fallback package: %w", err)
	}
	if pkg == nil {
		return nil, models.ErrPackageNotFound
	}
	return pkg, nil
}
