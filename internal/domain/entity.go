package domain

import "strings"

// EntityKind identifies one of the upstream entity streams
type EntityKind string

const (
	KindOffer        EntityKind = "offer"
	KindShop         EntityKind = "shop"
	KindAvailability EntityKind = "availability"
	KindBuyable      EntityKind = "buyable"
)

// EntityKinds lists every kind in the order workers are started
var EntityKinds = []EntityKind{KindOffer, KindShop, KindAvailability, KindBuyable}

// QueueKey returns the intermediate queue key holding raw messages of the kind
func (k EntityKind) QueueKey() string {
	return "queue-" + string(k)
}

// Valid reports whether k is a known kind
func (k EntityKind) Valid() bool {
	switch k {
	case KindOffer, KindShop, KindAvailability, KindBuyable:
		return true
	}
	return false
}

// Action is the upstream change type carried by every broker message
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction normalizes an upstream action string
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, true
	}
	return "", false
}

// IsDelete reports whether the action removes the entity
func (a Action) IsDelete() bool {
	return a == ActionDelete
}

// EntityKey is the storage identity of offers and shops
type EntityKey struct {
	ID          string
	CountryCode string
}

func (k EntityKey) String() string {
	return k.CountryCode + ":" + k.ID
}
