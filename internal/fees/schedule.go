package fees

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one volume bracket of the fee schedule. The bracket covers
// [MinVolume, MaxVolume); a nil MaxVolume is unbounded.
type Tier struct {
	Name       string           `json:"name"`
	MinVolume  decimal.Decimal  `json:"min_volume"`
	MaxVolume  *decimal.Decimal `json:"max_volume,omitempty"`
	BuyerRate  decimal.Decimal  `json:"buyer_rate"`
	SellerRate decimal.Decimal  `json:"seller_rate"`
}

// Contains reports whether the client's trailing-window volume falls in this
// bracket.
func (t Tier) Contains(volume decimal.Decimal) bool {
	if volume.LessThan(t.MinVolume) {
		return false
	}
	return t.MaxVolume == nil || volume.LessThan(*t.MaxVolume)
}

// Schedule is the full fee configuration pulled from the management tier.
type Schedule struct {
	Tiers          []Tier          `json:"tiers"`
	ManagementRate decimal.Decimal `json:"management_rate"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

// TierFor returns the tier whose bracket contains the volume. When no bracket
// matches (misconfigured schedule), the first tier applies.
func (s Schedule) TierFor(volume decimal.Decimal) Tier {
	for _, tier := range s.Tiers {
		if tier.Contains(volume) {
			return tier
		}
	}
	return s.Tiers[0]
}

// ChangeStatus tracks a scheduled fee change through its tiny state machine.
type ChangeStatus string

const (
	ChangePending ChangeStatus = "pending"
	ChangeApplied ChangeStatus = "applied"
)

// ScheduledChange is a future-effective edit to one tier's buyer/seller
// rates. Applying it never touches fees already snapshotted onto ledgered
// transactions.
type ScheduledChange struct {
	ID            int             `json:"id"`
	TierName      string          `json:"tier_name"`
	EffectiveDate time.Time       `json:"effective_date"`
	NewBuyerRate  decimal.Decimal `json:"new_buyer_rate"`
	NewSellerRate decimal.Decimal `json:"new_seller_rate"`
	Status        ChangeStatus    `json:"status"`
}

// ScheduleStore holds the active schedule and pending scheduled changes.
// Reads are frequent (every assessment); writes happen on management-tier
// pulls and scheduled-change application.
type ScheduleStore struct {
	mu       sync.RWMutex
	schedule Schedule
	changes  []ScheduledChange
	nextID   int
}

// NewScheduleStore seeds a store with the given schedule.
func NewScheduleStore(schedule Schedule) *ScheduleStore {
	return &ScheduleStore{schedule: schedule, nextID: 1}
}

// DefaultSchedule is the schedule used until the first successful config pull.
func DefaultSchedule() Schedule {
	high := decimal.NewFromInt(100000)
	mid := decimal.NewFromInt(10000)
	return Schedule{
		Tiers: []Tier{
			{Name: "standard", MinVolume: decimal.Zero, MaxVolume: &mid, BuyerRate: decimal.NewFromFloat(0.001), SellerRate: decimal.NewFromFloat(0.001)},
			{Name: "silver", MinVolume: mid, MaxVolume: &high, BuyerRate: decimal.NewFromFloat(0.0008), SellerRate: decimal.NewFromFloat(0.0008)},
			{Name: "gold", MinVolume: high, BuyerRate: decimal.NewFromFloat(0.0005), SellerRate: decimal.NewFromFloat(0.0005)},
		},
		ManagementRate: decimal.NewFromFloat(0.01),
		ConversionRate: decimal.NewFromFloat(0.005),
	}
}

// Schedule returns a copy of the active schedule.
func (s *ScheduleStore) Schedule() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// Replace swaps in a freshly pulled schedule. Freshest successful pull wins.
func (s *ScheduleStore) Replace(schedule Schedule) {
	if len(schedule.Tiers) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
}

// ScheduleChange registers a pending future-effective fee change.
func (s *ScheduleStore) ScheduleChange(change ScheduledChange) ScheduledChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	change.ID = s.nextID
	change.Status = ChangePending
	s.nextID++
	s.changes = append(s.changes, change)
	return change
}

// PendingChanges returns the changes not yet applied.
func (s *ScheduleStore) PendingChanges() []ScheduledChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]ScheduledChange, 0, len(s.changes))
	for _, c := range s.changes {
		if c.Status == ChangePending {
			pending = append(pending, c)
		}
	}
	return pending
}

// ApplyDue flips pending changes whose effective date has passed to applied
// and rewrites the matching tier rates. Returns the number applied.
func (s *ScheduleStore) ApplyDue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for i := range s.changes {
		change := &s.changes[i]
		if change.Status != ChangePending || change.EffectiveDate.After(now) {
			continue
		}
		for j := range s.schedule.Tiers {
			if s.schedule.Tiers[j].Name == change.TierName {
				s.schedule.Tiers[j].BuyerRate = change.NewBuyerRate
				s.schedule.Tiers[j].SellerRate = change.NewSellerRate
			}
		}
		change.Status = ChangeApplied
		applied++
	}
	return applied
}
