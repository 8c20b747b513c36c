package domain

import (
	"database/sql/driver"
	"time"
)

// TransferStatus summarises how many lines moved.
type TransferStatus string

const (
	TransferCompleted TransferStatus = "completed"
	TransferPartial   TransferStatus = "partial"
	TransferFailed    TransferStatus = "failed"
)

// LineOutcome tags how much of one line was carried out.
type LineOutcome string

const (
	LineSucceeded LineOutcome = "succeeded"
	LinePartial   LineOutcome = "partial"
	LineFailed    LineOutcome = "failed"
)

// OutcomeOf classifies a line that moved done of requested units.
func OutcomeOf(requested, done int64) LineOutcome {
	switch {
	case done <= 0:
		return LineFailed
	case done < requested:
		return LinePartial
	default:
		return LineSucceeded
	}
}

// TransferItem is the per-line outcome of a transfer. Success is true only
// when the full requested quantity moved.
type TransferItem struct {
	ProductID   string      `json:"product_id"`
	VariantID   string      `json:"variant_id,omitempty"`
	Requested   int64       `json:"requested"`
	Transferred int64       `json:"transferred"`
	Outcome     LineOutcome `json:"outcome"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
}

// Settle records that n units moved and derives Outcome and Success.
func (it *TransferItem) Settle(n int64) {
	it.Transferred = n
	it.Outcome = OutcomeOf(it.Requested, n)
	it.Success = it.Outcome == LineSucceeded
}

// TransferItems is stored as a JSONB column.
type TransferItems []TransferItem

// Value implements driver.Valuer.
func (t TransferItems) Value() (driver.Value, error) {
	return jsonValue(t)
}

// Scan implements sql.Scanner.
func (t *TransferItems) Scan(src interface{}) error {
	return jsonScan(src, t)
}

// Transfer moves stock from one location to another.
type Transfer struct {
	ID                    string         `json:"id" db:"id"`
	SourceLocationID      string         `json:"source_location_id" db:"source_location_id"`
	DestinationLocationID string         `json:"destination_location_id" db:"destination_location_id"`
	Reason                string         `json:"reason,omitempty" db:"reason"`
	Status                TransferStatus `json:"status" db:"status"`
	AllTransferred        bool           `json:"all_transferred" db:"all_transferred"`
	Items                 TransferItems  `json:"items" db:"items"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
}

// Summarize derives Status and AllTransferred from the item outcomes.
func (t *Transfer) Summarize() {
	full, moved := 0, 0
	for _, it := range t.Items {
		if it.Transferred > 0 {
			moved++
		}
		if it.Success {
			full++
		}
	}

	t.AllTransferred = len(t.Items) > 0 && full == len(t.Items)
	switch {
	case t.AllTransferred:
		t.Status = TransferCompleted
	case moved > 0:
		t.Status = TransferPartial
	default:
		t.Status = TransferFailed
	}
}
