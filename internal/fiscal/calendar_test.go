package fiscal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var november = Calendar{StartMonth: time.November, FloorYear: 2023, Location: time.UTC}

func TestInPeriodBoundaries(t *testing.T) {
	assert.True(t, november.InPeriod(2024, "2024-11-01"))
	assert.False(t, november.InPeriod(2024, "2024-10-31"))
	assert.True(t, november.InPeriod(2024, "2025-10-31"))
	assert.False(t, november.InPeriod(2024, "2025-11-01"))
}

func TestInPeriodMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-date", "2024-13-01", "2024-02-30", "24-11-01", "2024/11/01"} {
		assert.False(t, november.InPeriod(2024, raw), raw)
	}
}

func TestInPeriodAcceptsTimestampDatePart(t *testing.T) {
	assert.True(t, november.InPeriod(2024, "2025-10-31T23:30:00-04:00"))
}

func TestWindowEdges(t *testing.T) {
	w := november.Window(2024)
	assert.Equal(t, time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, time.October, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC), w.End)
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.End.Add(time.Millisecond)))
}

func TestWindowForJanuaryStart(t *testing.T) {
	w := Calendar{StartMonth: time.January, Location: time.UTC}.Window(2025)
	assert.Equal(t, time.Date(2025, time.December, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC), w.End)
}

func TestDefaultStartYear(t *testing.T) {
	assert.Equal(t, 2024, november.DefaultStartYear(time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2025, november.DefaultStartYear(time.Date(2025, time.November, 20, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2025, november.DefaultStartYear(time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)))
}

func TestChoices(t *testing.T) {
	got := november.Choices(time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{2027, 2026, 2025, 2024, 2023}, got)
}

type memoryYears struct {
	years map[int64]int
	err   error
}

func (m *memoryYears) FiscalStartYear(ctx context.Context, userID int64) (int, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	y, ok := m.years[userID]
	return y, ok, nil
}

func (m *memoryYears) SetFiscalStartYear(ctx context.Context, userID int64, year int) error {
	if m.err != nil {
		return m.err
	}
	m.years[userID] = year
	return nil
}

func TestSelectorDefaultsThenPersists(t *testing.T) {
	store := &memoryYears{years: map[int64]int{}}
	s := NewSelector(november, store, nil)
	s.now = func() time.Time { return time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	assert.Equal(t, 2024, s.CurrentStartYear(ctx, 5))
	assert.True(t, s.IsInCurrentPeriod(ctx, 5, "2024-11-01"))

	require.NoError(t, s.SetStartYear(ctx, 5, 2019))
	assert.Equal(t, 2019, s.CurrentStartYear(ctx, 5))
	p := s.Period(ctx, 5)
	assert.Equal(t, 2019, p.StartYear)
	assert.Equal(t, 2019, p.Window.Start.Year())
	assert.False(t, s.IsInCurrentPeriod(ctx, 5, "2024-11-01"))
}

func TestSelectorFallsBackOnStoreError(t *testing.T) {
	s := NewSelector(november, &memoryYears{err: errors.New("redis down")}, nil)
	s.now = func() time.Time { return time.Date(2025, time.November, 20, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, 2025, s.CurrentStartYear(context.Background(), 1))
}
