package store

import "fmt"

// Key scheme. Deposits and positions carry bounded retention; everything else
// lives until overwritten.
const (
	HedgeQueueKey   = "hedge:queue"
	DepositIndexKey = "deposits:index"
	LastBlockKey    = "monitor:last_block"
)

func DepositKey(txHash string) string {
	return fmt.Sprintf("deposit:%s", txHash)
}

func PositionKey(txHash, venue string) string {
	return fmt.Sprintf("position:%s:%s", txHash, venue)
}

func PositionSetKey(txHash string) string {
	return fmt.Sprintf("positions:%s", txHash)
}

func ExecutionKey(txHash string) string {
	return fmt.Sprintf("execution:%s", txHash)
}

func ClaimKey(txHash string) string {
	return fmt.Sprintf("claim:%s", txHash)
}
