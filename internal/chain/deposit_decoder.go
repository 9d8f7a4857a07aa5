package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hedgeflow/internal/model"
)

const depositABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "depositor", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "ethAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "tokenAmount", "type": "uint256"}
    ],
    "name": "EthDeposited",
    "type": "event"
  }
]`

// DepositDecoder unpacks EthDeposited logs into DepositLog values.
type DepositDecoder struct {
	contractABI abi.ABI
	topic0      common.Hash
}

func NewDepositDecoder() (*DepositDecoder, error) {
	contractABI, err := abi.JSON(strings.NewReader(depositABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse deposit abi: %w", err)
	}
	return &DepositDecoder{
		contractABI: contractABI,
		topic0:      contractABI.Events["EthDeposited"].ID,
	}, nil
}

// Topic0 returns the EthDeposited event signature hash.
func (d *DepositDecoder) Topic0() common.Hash {
	return d.topic0
}

// Decode unpacks one EthDeposited log.
func (d *DepositDecoder) Decode(log types.Log) (model.DepositLog, error) {
	if len(log.Topics) < 2 {
		return model.DepositLog{}, fmt.Errorf("missing topics")
	}
	if log.Topics[0] != d.topic0 {
		return model.DepositLog{}, fmt.Errorf("unexpected topic0: %s", log.Topics[0].Hex())
	}

	values, err := d.contractABI.Events["EthDeposited"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.DepositLog{}, fmt.Errorf("unpack data: %w", err)
	}
	if len(values) != 2 {
		return model.DepositLog{}, fmt.Errorf("unexpected field count: %d", len(values))
	}

	ethAmount, ok := values[0].(*big.Int)
	if !ok {
		return model.DepositLog{}, fmt.Errorf("ethAmount is not uint256")
	}
	tokenAmount, ok := values[1].(*big.Int)
	if !ok {
		return model.DepositLog{}, fmt.Errorf("tokenAmount is not uint256")
	}

	depositor := common.BytesToAddress(log.Topics[1].Bytes())

	return model.DepositLog{
		TxHash:      log.TxHash.Hex(),
		Depositor:   depositor.Hex(),
		AmountWei:   ethAmount,
		MintedWei:   tokenAmount,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}, nil
}
