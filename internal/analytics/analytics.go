// Package analytics aggregates growth and activity figures for dashboards.
package analytics

import (
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/storage"
)

const day = 24 * time.Hour

// Period is a growth bucket size.
type Period struct {
	Name   string
	Format string // strftime layout of the bucket label
	Window func(now time.Time) time.Time
}

var growthPeriods = map[string]Period{
	"day":   {"day", "%Y-%m-%d", func(now time.Time) time.Time { return now.Add(-30 * day) }},
	"week":  {"week", "%Y-W%W", func(now time.Time) time.Time { return now.Add(-12 * 7 * day) }},
	"month": {"month", "%Y-%m", func(now time.Time) time.Time { return now.AddDate(0, -12, 0) }},
	"year":  {"year", "%Y", func(now time.Time) time.Time { return now.AddDate(-5, 0, 0) }},
}

// GrowthPeriod resolves a growth period name. Empty means month.
func GrowthPeriod(name string) (Period, error) {
	if name == "" {
		name = "month"
	}
	p, ok := growthPeriods[name]
	if !ok {
		return Period{}, apperr.Invalid("period must be one of day, week, month, year")
	}
	return p, nil
}

// ActivityPeriod resolves an activity period. Day buckets cover the given
// number of days, defaulting to 7; hour covers the last 24 hours and week the
// last 12 weeks.
func ActivityPeriod(name string, days int) (Period, error) {
	switch name {
	case "hour":
		return Period{"hour", "%Y-%m-%d %H:00", func(now time.Time) time.Time { return now.Add(-day) }}, nil
	case "", "day":
		if days == 0 {
			days = 7
		}
		if days < 1 || days > 365 {
			return Period{}, apperr.Invalid("days must be between 1 and 365")
		}
		return Period{"day", "%Y-%m-%d", func(now time.Time) time.Time { return now.Add(-time.Duration(days) * day) }}, nil
	case "week":
		return Period{"week", "%Y-W%W", func(now time.Time) time.Time { return now.Add(-12 * 7 * day) }}, nil
	}
	return Period{}, apperr.Invalid("period must be one of hour, day, week")
}

// PercentageChange returns the change from previous to current in percent,
// rounded to two decimals. Growth from nothing counts as 100.
func PercentageChange(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	pct := float64(current-previous) / float64(previous) * 100
	return math.Round(pct*100) / 100
}

// AgentStats summarizes the agent population for a growth report.
type AgentStats struct {
	storage.AgentCounts
	NewLastWeek      int     `json:"newLastWeek"`
	PercentageChange float64 `json:"percentageChange"`
}

// AgentsGrowth is the agent growth report.
type AgentsGrowth struct {
	Period string                 `json:"period"`
	Growth []storage.GrowthBucket `json:"growth"`
	Stats  AgentStats             `json:"stats"`
}

// UsersGrowth is the user growth report.
type UsersGrowth struct {
	Period string                     `json:"period"`
	Growth []storage.UserGrowthBucket `json:"growth"`
}

// Activity is the activity report.
type Activity struct {
	Period     string                   `json:"period"`
	Activity   []storage.ActivityBucket `json:"activity"`
	TopActions []storage.ActionCount    `json:"topActions"`
}

// Overview is the dashboard summary.
type Overview struct {
	Agents struct {
		storage.AgentCounts
		NewThisWeek  int `json:"newThisWeek"`
		NewThisMonth int `json:"newThisMonth"`
	} `json:"agents"`
	Users struct {
		storage.UserCounts
		NewThisWeek int `json:"newThisWeek"`
	} `json:"users"`
	Logs struct {
		Total   int `json:"total"`
		Last24h int `json:"last24h"`
		Last7d  int `json:"last7d"`
	} `json:"logs"`
	Tasks          *storage.TaskStats    `json:"tasks"`
	RecentActivity []storage.ActionCount `json:"recentActivity"`
}

// Service computes reports from the store.
type Service struct {
	db  *storage.DB
	now func() time.Time
}

// NewService creates a Service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// AgentsGrowth buckets agent registrations over the period window and
// compares the window against the one before it.
func (s *Service) AgentsGrowth(period string) (*AgentsGrowth, error) {
	p, err := GrowthPeriod(period)
	if err != nil {
		return nil, err
	}
	now := s.now()
	since := p.Window(now)

	growth, err := s.db.AgentGrowth(p.Format, since)
	if err != nil {
		return nil, err
	}
	counts, err := s.db.GetAgentCounts()
	if err != nil {
		return nil, err
	}
	newLastWeek, err := s.db.CountAgentsCreated(now.Add(-7*day), now.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}
	previous, err := s.db.CountAgentsCreated(since.Add(-now.Sub(since)), since)
	if err != nil {
		return nil, err
	}
	current := 0
	for _, b := range growth {
		current += b.Total
	}

	return &AgentsGrowth{
		Period: p.Name,
		Growth: growth,
		Stats: AgentStats{
			AgentCounts:      *counts,
			NewLastWeek:      newLastWeek,
			PercentageChange: PercentageChange(current, previous),
		},
	}, nil
}

// UsersGrowth buckets user sign-ups over the period window.
func (s *Service) UsersGrowth(period string) (*UsersGrowth, error) {
	p, err := GrowthPeriod(period)
	if err != nil {
		return nil, err
	}
	growth, err := s.db.UserGrowth(p.Format, p.Window(s.now()))
	if err != nil {
		return nil, err
	}
	return &UsersGrowth{Period: p.Name, Growth: growth}, nil
}

// Activity buckets log entries and lists the ten most frequent actions.
func (s *Service) Activity(period string, days int) (*Activity, error) {
	p, err := ActivityPeriod(period, days)
	if err != nil {
		return nil, err
	}
	since := p.Window(s.now())
	buckets, err := s.db.ActivityBuckets(p.Format, since)
	if err != nil {
		return nil, err
	}
	top, err := s.db.TopActions(since, 10)
	if err != nil {
		return nil, err
	}
	return &Activity{Period: p.Name, Activity: buckets, TopActions: top}, nil
}

// Overview gathers the dashboard counters concurrently.
func (s *Service) Overview() (*Overview, error) {
	now := s.now()
	end := now.Add(time.Millisecond)
	var o Overview
	var g errgroup.Group

	g.Go(func() error {
		c, err := s.db.GetAgentCounts()
		if err != nil {
			return err
		}
		o.Agents.AgentCounts = *c
		if o.Agents.NewThisWeek, err = s.db.CountAgentsCreated(now.Add(-7*day), end); err != nil {
			return err
		}
		o.Agents.NewThisMonth, err = s.db.CountAgentsCreated(now.Add(-30*day), end)
		return err
	})
	g.Go(func() error {
		c, err := s.db.GetUserCounts()
		if err != nil {
			return err
		}
		o.Users.UserCounts = *c
		o.Users.NewThisWeek, err = s.db.CountUsersCreated(now.Add(-7*day), end)
		return err
	})
	g.Go(func() error {
		var err error
		if o.Logs.Total, err = s.db.CountActivityLogs(time.UnixMilli(0), end); err != nil {
			return err
		}
		if o.Logs.Last24h, err = s.db.CountActivityLogs(now.Add(-day), end); err != nil {
			return err
		}
		o.Logs.Last7d, err = s.db.CountActivityLogs(now.Add(-7*day), end)
		return err
	})
	g.Go(func() error {
		var err error
		o.Tasks, err = s.db.GetTaskStats(storage.TaskFilter{}, now)
		return err
	})
	g.Go(func() error {
		var err error
		o.RecentActivity, err = s.db.TopActions(now.Add(-day), 5)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &o, nil
}
