package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays the stock chains and credit ledgers.
	TaskLedgerIntegrity = "ledger:integrity"
)

// Ledger names accepted by LedgerIntegrityPayload.
const (
	LedgerStock  = "stock"
	LedgerCredit = "credit"
)

// LedgerIntegrityPayload selects which ledgers a scan replays. An empty
// Ledgers list scans both.
type LedgerIntegrityPayload struct {
	Ledgers     []string `json:"ledgers,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

func (p LedgerIntegrityPayload) normalise() (LedgerIntegrityPayload, error) {
	if len(p.Ledgers) == 0 {
		p.Ledgers = []string{LedgerStock, LedgerCredit}
	}
	for _, l := range p.Ledgers {
		if l != LedgerStock && l != LedgerCredit {
			return p, fmt.Errorf("ledger integrity: unknown ledger %q", l)
		}
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	return p, nil
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity scan.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	if _, err := payload.normalise(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}
