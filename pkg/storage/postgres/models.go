package postgres

import (
	"math"
	"time"
)

// Alert direction: which side of the threshold triggers it.
const (
	DirectionCrossOver  = "CrossOver"
	DirectionCrossUnder = "CrossUnder"
)

// Alert status. Transitions exactly once, Active -> Triggered.
const (
	AlertActive    = "Active"
	AlertTriggered = "Triggered"
)

// Zone side.
const (
	SideLong  = "Long"
	SideShort = "Short"
)

// Zone status. Active -> EntryHit -> {StoplossHit, TargetHit}, or
// Active -> Failed. The three right-hand states are terminal.
const (
	ZoneActive      = "Active"
	ZoneEntryHit    = "EntryHit"
	ZoneStoplossHit = "StoplossHit"
	ZoneTargetHit   = "TargetHit"
	ZoneFailed      = "Failed"
)

// User owns alerts and zones; the phone number is the notification
// destination.
type User struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"type:varchar(100);not null"`
	Email       string    `gorm:"type:varchar(120);not null;uniqueIndex"`
	PhoneNumber string    `gorm:"type:varchar(20);not null;uniqueIndex"`
	IsAdmin     bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (User) TableName() string {
	return "users"
}

// Instrument is one watchable symbol. InstrumentToken is the feed's opaque
// identifier; LastPrice/LastUpdated track the most recent completed candle
// close.
type Instrument struct {
	ID              uint   `gorm:"primaryKey"`
	Symbol          string `gorm:"type:varchar(20);not null;index"`
	Exchange        string `gorm:"type:varchar(10);not null"`
	InstrumentToken int64  `gorm:"not null;uniqueIndex"`
	Name            string `gorm:"type:varchar(100)"`
	LastPrice       float64
	LastUpdated     *time.Time
}

func (Instrument) TableName() string {
	return "instruments"
}

// Alert is a one-shot threshold notification rule.
type Alert struct {
	ID          uint       `gorm:"primaryKey"`
	Symbol      string     `gorm:"type:varchar(20);not null"`
	Direction   string     `gorm:"type:varchar(20);not null"`
	Price       float64    `gorm:"not null"`
	Status      string     `gorm:"type:varchar(20);not null;default:Active;index"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index"`
	TriggeredAt *time.Time

	UserID       uint `gorm:"not null;index"`
	InstrumentID uint `gorm:"not null;index"`

	User       User       `gorm:"foreignKey:UserID"`
	Instrument Instrument `gorm:"foreignKey:InstrumentID"`
}

func (Alert) TableName() string {
	return "alerts"
}

// Zone is a three-level directional trade setup with multi-stage status.
// Exactly one of the *At timestamps is set per transition; earlier ones are
// left intact.
type Zone struct {
	ID     uint   `gorm:"primaryKey"`
	Symbol string `gorm:"type:varchar(20);not null"`
	Side   string `gorm:"type:varchar(20);not null"`
	Status string `gorm:"type:varchar(20);not null;default:Active;index"`

	Entry    float64 `gorm:"not null"`
	Stoploss float64 `gorm:"not null"`
	Target   float64 `gorm:"not null"`

	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
	EntryAt    *time.Time
	StoplossAt *time.Time
	TargetAt   *time.Time
	FailedAt   *time.Time

	UserID       uint `gorm:"not null;index"`
	InstrumentID uint `gorm:"not null;index"`

	User       User       `gorm:"foreignKey:UserID"`
	Instrument Instrument `gorm:"foreignKey:InstrumentID"`
}

func (Zone) TableName() string {
	return "zones"
}

// Terminal reports whether no further transition is defined out of the
// zone's current status.
func (z *Zone) Terminal() bool {
	switch z.Status {
	case ZoneStoplossHit, ZoneTargetHit, ZoneFailed:
		return true
	}
	return false
}

// RiskPerUnit is |entry - stoploss|.
func (z *Zone) RiskPerUnit() float64 {
	return math.Abs(z.Entry - z.Stoploss)
}

// RewardToRisk is |target-entry| / |entry-stoploss|, 0 when risk is zero.
func (z *Zone) RewardToRisk() float64 {
	risk := z.RiskPerUnit()
	if risk == 0 {
		return 0
	}
	return math.Abs(z.Target-z.Entry) / risk
}
