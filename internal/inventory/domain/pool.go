package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Strategy decides the order in which pool locations are drained.
type Strategy string

const (
	StrategyFIFO      Strategy = "fifo"
	StrategyNearest   Strategy = "nearest"
	StrategyPriority  Strategy = "priority"
	StrategyEvenSplit Strategy = "even_split"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFIFO, StrategyNearest, StrategyPriority, StrategyEvenSplit:
		return true
	}
	return false
}

// ReservationPolicy controls whether allocation places holds.
type ReservationPolicy string

const (
	// PolicyImmediate reserves every pick as it is chosen.
	PolicyImmediate ReservationPolicy = "immediate"
	// PolicyDeferred only computes the plan; nothing is reserved.
	PolicyDeferred ReservationPolicy = "deferred"
)

// Valid reports whether p is a known policy.
func (p ReservationPolicy) Valid() bool {
	return p == PolicyImmediate || p == PolicyDeferred
}

// PoolMember is one location in a pool. Lower priority values are drained first.
type PoolMember struct {
	PoolID     string `json:"pool_id" db:"pool_id"`
	LocationID string `json:"location_id" db:"location_id"`
	Priority   int    `json:"priority" db:"priority"`
}

// Pool is a named group of locations fulfilment can draw from.
type Pool struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Strategy  Strategy          `json:"allocation_strategy" db:"allocation_strategy"`
	Policy    ReservationPolicy `json:"reservation_policy" db:"reservation_policy"`
	IsActive  bool              `json:"is_active" db:"is_active"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
	Members   []PoolMember      `json:"members" db:"-"`
}

// MemberIDs returns the location ids of all members.
func (p *Pool) MemberIDs() []string {
	ids := make([]string, len(p.Members))
	for i, m := range p.Members {
		ids[i] = m.LocationID
	}
	return ids
}

// Location is the registry's view of a stocking point.
type Location struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Latitude  *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64  `json:"longitude,omitempty" db:"longitude"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Coordinates returns the location's position if both components are set.
func (l *Location) Coordinates() (*Coordinates, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return nil, false
	}
	return &Coordinates{Latitude: *l.Latitude, Longitude: *l.Longitude}, true
}

// AllocationStatus is the lifecycle of an allocation result.
type AllocationStatus string

const (
	AllocationReserved AllocationStatus = "reserved"
	AllocationPlanned  AllocationStatus = "planned"
	AllocationReleased AllocationStatus = "released"
)

// Pick is the quantity taken from one location for one line.
type Pick struct {
	LocationID    string `json:"location_id"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// AllocationLine is the outcome for one requested product.
type AllocationLine struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	Requested int64       `json:"requested"`
	Allocated int64       `json:"allocated"`
	Shortfall int64       `json:"shortfall"`
	Outcome   LineOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
	Picks     []Pick      `json:"picks"`
}

// AllocationLines is stored as a JSONB column.
type AllocationLines []AllocationLine

// Value implements driver.Valuer.
func (l AllocationLines) Value() (driver.Value, error) {
	return jsonValue(l)
}

// Scan implements sql.Scanner.
func (l *AllocationLines) Scan(src interface{}) error {
	return jsonScan(src, l)
}

// Allocation is the persisted result of allocating an order across a pool.
type Allocation struct {
	ID             string            `json:"id" db:"id"`
	PoolID         string            `json:"pool_id" db:"pool_id"`
	ReferenceID    string            `json:"reference_id" db:"reference_id"`
	Strategy       Strategy          `json:"strategy" db:"strategy"`
	Policy         ReservationPolicy `json:"reservation_policy" db:"reservation_policy"`
	Status         AllocationStatus  `json:"status" db:"status"`
	FullyAllocated bool              `json:"fully_allocated" db:"fully_allocated"`
	Lines          AllocationLines   `json:"lines" db:"lines"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	ReleasedAt     *time.Time        `json:"released_at,omitempty" db:"released_at"`
}

// ReservationIDs lists the reservations created for this allocation.
func (a *Allocation) ReservationIDs() []string {
	var ids []string
	for _, line := range a.Lines {
		for _, p := range line.Picks {
			if p.ReservationID != "" {
				ids = append(ids, p.ReservationID)
			}
		}
	}
	return ids
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}
