package fiscal

import (
	"context"
	"log/slog"
	"time"
)

// YearStore persists an actor's selected fiscal start year.
type YearStore interface {
	FiscalStartYear(ctx context.Context, userID int64) (int, bool, error)
	SetFiscalStartYear(ctx context.Context, userID int64, year int) error
}

// Period is the selected year with its window.
type Period struct {
	StartYear int
	Window    Window
}

// Selector tracks the fiscal year each actor is looking at.
type Selector struct {
	calendar Calendar
	store    YearStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewSelector constructs a Selector.
func NewSelector(calendar Calendar, store YearStore, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{calendar: calendar, store: store, logger: logger, now: time.Now}
}

// Calendar exposes the configured calendar.
func (s *Selector) Calendar() Calendar {
	return s.calendar
}

// CurrentStartYear returns the persisted selection or the computed default.
func (s *Selector) CurrentStartYear(ctx context.Context, userID int64) int {
	year, ok, err := s.store.FiscalStartYear(ctx, userID)
	if err != nil {
		s.logger.Warn("fiscal: read selected year", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	if err != nil || !ok {
		return s.calendar.DefaultStartYear(s.now())
	}
	return year
}

// SetStartYear persists the selection as given.
func (s *Selector) SetStartYear(ctx context.Context, userID int64, year int) error {
	return s.store.SetFiscalStartYear(ctx, userID, year)
}

// Period returns the selected year and its window.
func (s *Selector) Period(ctx context.Context, userID int64) Period {
	year := s.CurrentStartYear(ctx, userID)
	return Period{StartYear: year, Window: s.calendar.Window(year)}
}

// IsInCurrentPeriod reports whether raw falls inside the actor's selected year.
func (s *Selector) IsInCurrentPeriod(ctx context.Context, userID int64, raw string) bool {
	return s.calendar.InPeriod(s.CurrentStartYear(ctx, userID), raw)
}

// Choices lists the selectable start years.
func (s *Selector) Choices() []int {
	return s.calendar.Choices(s.now())
}
