package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

const (
	DefaultAnalyticsDays = 30
	MaxAnalyticsDays     = 365
	DefaultTopUsers      = 10
	MaxTopUsers          = 100
)

// AnalyticsService builds dashboard rollups. It never writes.
type AnalyticsService struct {
	repo *repository.AnalyticsRepository
	now  func() time.Time
}

func NewAnalyticsService(repo *repository.AnalyticsRepository) *AnalyticsService {
	return &AnalyticsService{repo: repo, now: time.Now}
}

func (s *AnalyticsService) UserReport(ctx context.Context, userID string, days int) (*models.AnalyticsReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	return s.report(ctx, userID, days)
}

func (s *AnalyticsService) AdminReport(ctx context.Context, days, top int) (*models.AdminAnalyticsReport, error) {
	report, err := s.report(ctx, "", days)
	if err != nil {
		return nil, err
	}
	top = clamp(top, 1, MaxTopUsers, DefaultTopUsers)
	since := s.windowStart(report.Days)

	byCredits, err := s.repo.TopByCredits(ctx, since, top)
	if err != nil {
		return nil, fmt.Errorf("top users by credits: %w", err)
	}
	byCost, err := s.repo.TopByUsageCost(ctx, since, top)
	if err != nil {
		return nil, fmt.Errorf("top users by usage cost: %w", err)
	}
	return &models.AdminAnalyticsReport{
		AnalyticsReport: *report,
		TopByCredits:    byCredits,
		TopByUsageCost:  byCost,
	}, nil
}

func (s *AnalyticsService) report(ctx context.Context, userID string, days int) (*models.AnalyticsReport, error) {
	days = clamp(days, 1, MaxAnalyticsDays, DefaultAnalyticsDays)
	since := s.windowStart(days)

	flow, err := s.repo.CreditFlow(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	usage, err := s.repo.UsageEvents(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	generations, err := s.repo.Generations(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	report := &models.AnalyticsReport{
		Days:    days,
		From:    since.Format(time.DateOnly),
		To:      s.now().UTC().Format(time.DateOnly),
		Daily:   make([]models.DailyPoint, days),
		ByEvent: []models.EventBreakdown{},
	}
	index := make(map[string]*models.DailyPoint, days)
	for i := range report.Daily {
		day := since.AddDate(0, 0, i).Format(time.DateOnly)
		report.Daily[i].Date = day
		index[day] = &report.Daily[i]
	}

	for _, row := range flow {
		point := index[row.Day]
		if row.Type == models.TxUsage {
			report.CreditsOut += row.Amount
			if point != nil {
				point.CreditsOut += row.Amount
			}
			continue
		}
		report.CreditsIn += row.Amount
		if point != nil {
			point.CreditsIn += row.Amount
		}
	}

	events := map[string]*models.EventBreakdown{}
	breakdown := func(name string) *models.EventBreakdown {
		if b, ok := events[name]; ok {
			return b
		}
		b := &models.EventBreakdown{Event: name}
		events[name] = b
		return b
	}

	for _, row := range usage {
		report.UsageCost += row.Cost
		report.Tokens += row.Tokens
		if point := index[row.Day]; point != nil {
			point.UsageCost += row.Cost
			point.Tokens += row.Tokens
		}
		b := breakdown(row.EventType)
		b.Count += row.Count
		b.CreditsUsed += row.Credits
		b.UsageCost += row.Cost
		b.Tokens += row.Tokens
	}

	for _, row := range generations {
		report.Generations += row.Count
		if point := index[row.Day]; point != nil {
			point.Generations += row.Count
		}
		b := breakdown(string(row.GenerationType))
		b.Count += row.Count
		b.CreditsUsed += row.CreditsUsed
	}

	for _, b := range events {
		report.ByEvent = append(report.ByEvent, *b)
	}
	sort.Slice(report.ByEvent, func(i, j int) bool {
		if report.ByEvent[i].CreditsUsed != report.ByEvent[j].CreditsUsed {
			return report.ByEvent[i].CreditsUsed > report.ByEvent[j].CreditsUsed
		}
		return report.ByEvent[i].Event < report.ByEvent[j].Event
	})
	return report, nil
}

// windowStart is midnight UTC of the first day of a days-long window ending today.
func (s *AnalyticsService) windowStart(days int) time.Time {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(days - 1))
}

// clamp maps a non-positive value to def and everything else into [lo, hi].
func clamp(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
