package store

import "time"

// TradeStatus is the Trade.status enum. Valid transitions form the
// DAG pending → submitted → {confirmed, failed}; paper_completed is
// terminal directly from creation.
type TradeStatus string

const (
	StatusPending        TradeStatus = "pending"
	StatusSubmitted      TradeStatus = "submitted"
	StatusConfirmed      TradeStatus = "confirmed"
	StatusFailed         TradeStatus = "failed"
	StatusPaperCompleted TradeStatus = "paper_completed"
)

// Trade is the persistent Trade record.
type Trade struct {
	TradeID            int64
	InputMint          string
	OutputMint         string
	InputAmountAtomic  int64
	InputDecimals      int
	OutputDecimals     int
	Status             TradeStatus
	TransactionHash    string
	ActualOutputAmount *int64
	ErrorMessage       string
	StrategyID         string
	Metadata           map[string]any
	CreatedAt          time.Time
	ConfirmedAt        *time.Time
}

// PositionStatus distinguishes an open position from a closed (historical)
// one; closed rows are retained for trade_log cross-referencing.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is the persistent Position record.
type Position struct {
	TokenMint      string
	Amount         float64
	EntryPriceSOL  float64
	EntryTimestamp time.Time
	HighWaterMark  float64
	EntryTradeHash string
	Status         PositionStatus
	UpdatedAt      time.Time
}

// TradeLogKind distinguishes a position-entry row from a position-exit row.
type TradeLogKind string

const (
	LogEntry TradeLogKind = "entry"
	LogExit  TradeLogKind = "exit"
)

// TradeLogEntry is one row of the append-only trade_log audit trail.
type TradeLogEntry struct {
	ID            int64
	TradeID       int64
	TokenMint     string
	Kind          TradeLogKind
	Amount        float64
	PriceSOL      float64
	Reason        string
	ReferenceHash string
	CreatedAt     time.Time
}
