package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	jobmetrics "github.com/odyssey-erp/pos-ledger/internal/jobs"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
	"github.com/odyssey-erp/pos-ledger/jobs"
)

type fixture struct {
	store  *memory.Store
	stock  *stock.Service
	credit *credit.Service
	job    *jobs.LedgerIntegrityJob
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	store.AddCustomer(sales.Customer{ID: 1, Name: "Ada"})
	store.AddCustomer(sales.Customer{ID: 2, Name: "Bayo"})
	stockSvc := stock.NewService(store.Stock(), nil, nil, db.RetryPolicy{}, nil)
	creditSvc := credit.NewService(store.Credit(), nil, nil, db.RetryPolicy{}, nil)
	job := jobs.NewLedgerIntegrityJob(stockSvc, creditSvc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return fixture{store: store, stock: stockSvc, credit: creditSvc, job: job}
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, supplier := range []int64{10, 20} {
		_, err := f.stock.CreateDelivery(ctx, stock.DeliveryInput{ProductID: 7, SupplierID: supplier, CumulativeQuantity: decimal.NewFromInt(100)})
		require.NoError(t, err)
	}
	batch, err := f.stock.CreateDelivery(ctx, stock.DeliveryInput{ProductID: 7, SupplierID: 10, CumulativeQuantity: decimal.NewFromInt(40)})
	require.NoError(t, err)
	_, err = f.stock.RecordSale(ctx, batch.ID, decimal.NewFromInt(25), "tester")
	require.NoError(t, err)

	for _, id := range []int64{1, 2} {
		_, err := f.credit.Post(ctx, credit.PostInput{CustomerID: id, Type: credit.TypeCreditAdded, Amount: decimal.NewFromInt(50)})
		require.NoError(t, err)
	}
}

func TestLedgerIntegrityCleanLedgers(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	report, err := f.job.Run(context.Background(), jobs.LedgerIntegrityPayload{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChainsChecked)
	assert.Equal(t, 2, report.Customers)
	assert.Zero(t, report.Findings())
	assert.NotEmpty(t, report.RunID)
}

func TestLedgerIntegrityReportsDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	batches, err := f.stock.ListBatches(ctx, stock.BatchFilter{ProductID: 7, SupplierID: 20})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	drifted := batches[0]
	drifted.RemainingStock = decimal.NewFromInt(90)
	f.store.Stock().OverwriteBatch(drifted)

	f.store.Credit().AppendRaw(credit.Entry{
		CustomerID:   2,
		Seq:          2,
		Type:         credit.TypeCreditUsed,
		Amount:       decimal.NewFromInt(10),
		BalanceAfter: decimal.NewFromInt(45),
		CreatedAt:    time.Now().UTC(),
	})

	report, err := f.job.Run(ctx, jobs.LedgerIntegrityPayload{Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, report.Chains, 1)
	assert.Equal(t, stock.ChainKey{ProductID: 7, SupplierID: 20}, report.Chains[0].ChainKey)
	assert.NotEmpty(t, report.Chains[0].Detail)
	require.Len(t, report.Credits, 1)
	assert.Equal(t, int64(2), report.Credits[0].CustomerID)
	assert.True(t, report.Credits[0].Snapshot.Equal(decimal.NewFromInt(45)))
	assert.True(t, report.Credits[0].Replayed.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 2, report.Findings())
}

func TestLedgerIntegritySelectsLedgers(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	report, err := f.job.Run(context.Background(), jobs.LedgerIntegrityPayload{Ledgers: []string{jobs.LedgerCredit}})
	require.NoError(t, err)
	assert.Zero(t, report.ChainsChecked)
	assert.Equal(t, 2, report.Customers)

	_, err = f.job.Run(context.Background(), jobs.LedgerIntegrityPayload{Ledgers: []string{"gl"}})
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type failingVerifier struct{ err error }

func (v failingVerifier) Chains(context.Context) ([]stock.ChainKey, error) {
	return []stock.ChainKey{{ProductID: 1, SupplierID: 1}}, nil
}

func (v failingVerifier) VerifyChain(context.Context, stock.ChainKey) (stock.ChainReport, error) {
	return stock.ChainReport{}, v.err
}

func TestLedgerIntegrityPropagatesScanErrors(t *testing.T) {
	boom := errors.New("connection reset")
	job := jobs.NewLedgerIntegrityJob(failingVerifier{err: boom}, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	_, err := job.Run(context.Background(), jobs.LedgerIntegrityPayload{Ledgers: []string{jobs.LedgerStock}})
	assert.ErrorIs(t, err, boom)
}

func TestLedgerIntegrityHandleTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	task, err := jobs.NewLedgerIntegrityTask(jobs.LedgerIntegrityPayload{Ledgers: []string{jobs.LedgerStock}})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskLedgerIntegrity, task.Type())

	var payload jobs.LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, []string{jobs.LedgerStock}, payload.Ledgers)

	require.NoError(t, f.job.Handle(context.Background(), task))
	assert.ErrorIs(t, f.job.Handle(context.Background(), asynq.NewTask(jobs.TaskLedgerIntegrity, []byte("{"))), asynq.SkipRetry)
}
