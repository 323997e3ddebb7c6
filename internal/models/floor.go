package models

type ElementType string

const (
	ElementTable ElementType = "table"
	ElementBed   ElementType = "bed"
	ElementSofa  ElementType = "sofa"
)

// Reservable reports whether clients can claim an element of this type.
func (t ElementType) Reservable() bool {
	return t == ElementTable || t == ElementBed || t == ElementSofa
}

// FloorElement is the floor-plan service's view of a placed element.
type FloorElement struct {
	ID      string      `json:"id"`
	EventID string      `json:"event_id"`
	Type    ElementType `json:"type"`
	Label   string      `json:"label,omitempty"`
}

// LegacyRecord is the pre-wallet shape of a code: a minimum spend and a
// consumed amount stored side by side, with the table kept on the code row.
type LegacyRecord struct {
	Code         string  `json:"code"`
	MinimumSpend string  `json:"minimum_spend"`
	Consumed     string  `json:"consumed"`
	Currency     string  `json:"currency"`
	TableID      string  `json:"table_id"`
	Active       bool    `json:"active"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
}
