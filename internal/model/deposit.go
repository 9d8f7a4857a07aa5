package model

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DepositLog is a decoded on-chain deposit event before normalization.
type DepositLog struct {
	TxHash      string
	Depositor   string
	AmountWei   *big.Int
	MintedWei   *big.Int
	BlockNumber uint64
	LogIndex    uint
}

// DepositEvent is the durable record of an observed deposit, keyed by tx hash.
type DepositEvent struct {
	TxHash       string          `json:"tx_hash"`
	Depositor    string          `json:"depositor"`
	Amount       decimal.Decimal `json:"amount"`
	MintedAmount decimal.Decimal `json:"minted_amount"`
	BlockNumber  uint64          `json:"block_number"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// EncodeDeposit serializes a DepositEvent for storage.
func EncodeDeposit(d DepositEvent) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeDeposit deserializes a stored DepositEvent.
func DecodeDeposit(data string) (DepositEvent, error) {
	var d DepositEvent
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return DepositEvent{}, err
	}
	return d, nil
}
