package archive

import (
	"context"

	"hedgeflow/internal/model"
)

// Archive is a long-term audit sink for deposits and execution logs. The hot
// store keeps records under bounded retention; the archive keeps them for good.
type Archive interface {
	SaveDeposit(ctx context.Context, deposit model.DepositEvent) error
	SaveExecution(ctx context.Context, log model.ExecutionLog) error
}
