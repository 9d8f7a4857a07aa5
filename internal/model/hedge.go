package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a hedge position.
type PositionState string

const (
	PositionOpen    PositionState = "open"
	PositionPending PositionState = "pending"
	PositionFailed  PositionState = "failed"
	PositionClosed  PositionState = "closed"
)

// HedgeRequest is the queued instruction to hedge one deposit. It exists only
// on the work queue; the DepositEvent is the durable record of intent.
type HedgeRequest struct {
	DepositTxHash string          `json:"deposit_tx_hash"`
	Notional      decimal.Decimal `json:"notional"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	Depositor     string          `json:"depositor"`
}

// HedgePosition is one venue's outcome for one deposit, keyed by tx hash and
// venue. Failed attempts are recorded too, so the audit trail always carries
// one entry per venue per attempt.
type HedgePosition struct {
	DepositTxHash string          `json:"deposit_tx_hash"`
	Venue         string          `json:"venue"`
	Instrument    string          `json:"instrument"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	State         PositionState   `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ExecutionLog is the write-once record of one hedge execution.
type ExecutionLog struct {
	Request      HedgeRequest    `json:"request"`
	Positions    []HedgePosition `json:"positions"`
	SuccessCount int             `json:"success_count"`
	TotalVenues  int             `json:"total_venues"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// EncodeHedgeRequest serializes a HedgeRequest for the work queue.
func EncodeHedgeRequest(r HedgeRequest) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeHedgeRequest deserializes a queue payload.
func DecodeHedgeRequest(data string) (HedgeRequest, error) {
	var r HedgeRequest
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return HedgeRequest{}, err
	}
	return r, nil
}

// EncodePosition serializes a HedgePosition for storage.
func EncodePosition(p HedgePosition) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodePosition deserializes a stored HedgePosition.
func DecodePosition(data string) (HedgePosition, error) {
	var p HedgePosition
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return HedgePosition{}, err
	}
	return p, nil
}

// EncodeExecutionLog serializes an ExecutionLog for storage.
func EncodeExecutionLog(l ExecutionLog) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeExecutionLog deserializes a stored ExecutionLog.
func DecodeExecutionLog(data string) (ExecutionLog, error) {
	var l ExecutionLog
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return ExecutionLog{}, err
	}
	return l, nil
}
