package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hedgeflow/internal/model"
)

// JsonlArchive appends audit records as JSON lines.
type JsonlArchive struct {
	path string
	mu   sync.Mutex
}

func NewJsonlArchive(path string) *JsonlArchive {
	return &JsonlArchive{path: path}
}

type jsonlRecord struct {
	Kind      string              `json:"kind"`
	Deposit   *model.DepositEvent `json:"deposit,omitempty"`
	Execution *model.ExecutionLog `json:"execution,omitempty"`
}

// SaveDeposit appends one deposit record.
func (a *JsonlArchive) SaveDeposit(_ context.Context, deposit model.DepositEvent) error {
	return a.append(jsonlRecord{Kind: "deposit", Deposit: &deposit})
}

// SaveExecution appends one execution log record.
func (a *JsonlArchive) SaveExecution(_ context.Context, log model.ExecutionLog) error {
	return a.append(jsonlRecord{Kind: "execution", Execution: &log})
}

func (a *JsonlArchive) append(record jsonlRecord) error {
	dir := filepath.Dir(a.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}

	return nil
}
