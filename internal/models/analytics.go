package models

// DailyPoint is one day of the analytics time series. Days with no activity are zero.
type DailyPoint struct {
	Date        string  `json:"date"`
	CreditsIn   int64   `json:"creditsIn"`
	CreditsOut  int64   `json:"creditsOut"`
	UsageCost   float64 `json:"usageCost"`
	Tokens      int64   `json:"tokens"`
	Generations int64   `json:"generations"`
}

// EventBreakdown aggregates one generation type or usage event type.
type EventBreakdown struct {
	Event       string  `json:"event"`
	Count       int64   `json:"count"`
	CreditsUsed int64   `json:"creditsUsed"`
	UsageCost   float64 `json:"usageCost"`
	Tokens      int64   `json:"tokens"`
}

type UserRank struct {
	UserID string  `json:"userId"`
	Value  float64 `json:"value"`
}

type AnalyticsReport struct {
	Days        int              `json:"days"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	CreditsIn   int64            `json:"creditsIn"`
	CreditsOut  int64            `json:"creditsOut"`
	UsageCost   float64          `json:"usageCost"`
	Tokens      int64            `json:"tokens"`
	Generations int64            `json:"generations"`
	Daily       []DailyPoint     `json:"daily"`
	ByEvent     []EventBreakdown `json:"byEvent"`
}

type AdminAnalyticsReport struct {
	AnalyticsReport
	TopByCredits   []UserRank `json:"topByCredits"`
	TopByUsageCost []UserRank `json:"topByUsageCost"`
}
