package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func fivePercent(t *testing.T) valueobject.FeePolicy {
	t.Helper()
	fees, err := valueobject.NewFeePolicy(decimal.NewFromInt(5))
	require.NoError(t, err)
	return fees
}

func userActor(id uuid.UUID) Actor {
	return Actor{UserID: id, Role: models.UserRoleUser, IPAddress: "203.0.113.7", UserAgent: "go-test"}
}

func adminActor(id uuid.UUID) Actor {
	return Actor{UserID: id, Role: models.UserRoleAdmin}
}

func assertAmount(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

// acceptedProject принимает ставку и возвращает стороны и результат.
func acceptedProject(t *testing.T, store *memStore, amount string) (employerID, workerID uuid.UUID, res *AcceptBidResult) {
	t.Helper()
	employerID = store.addUser(models.UserRoleUser)
	workerID = store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Лендинг для кофейни")
	bid := store.addBid(job.ID, workerID, amount)

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	res, err := svc.AcceptBid(context.Background(), userActor(employerID), bid.ID)
	require.NoError(t, err)
	return employerID, workerID, res
}

func TestBidService_AcceptBid_CreatesProjectAndRejectsOthers(t *testing.T) {
	store := newMemStore()
	employerID := store.addUser(models.UserRoleUser)
	w1 := store.addUser(models.UserRoleUser)
	w2 := store.addUser(models.UserRoleUser)
	w3 := store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Мобильное приложение")
	accepted := store.addBid(job.ID, w1, "1000")
	other1 := store.addBid(job.ID, w2, "900")
	other2 := store.addBid(job.ID, w3, "1200")

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	res, err := svc.AcceptBid(context.Background(), userActor(employerID), accepted.ID)
	require.NoError(t, err)

	assertAmount(t, "1000", res.Project.AgreedAmount)
	assertAmount(t, "50", res.Project.PlatformFee)
	assertAmount(t, "950", res.Project.NetAmount)
	assert.Equal(t, models.ProjectStatusActive, res.Project.Status)
	assert.False(t, res.Project.PaymentReleased)
	assert.False(t, res.Project.ContractSigned)

	assert.Equal(t, models.ContractStatusPendingEmployer, res.Contract.Status)
	assert.Equal(t, res.Project.ID, res.Contract.ProjectID)
	assert.Equal(t, "Мобильное приложение", res.Contract.Title)

	assert.ElementsMatch(t, []uuid.UUID{other1.ID, other2.ID}, res.RejectedBids)
	assert.Equal(t, models.BidStatusAccepted, store.bid(accepted.ID).Status)
	assert.Equal(t, models.BidStatusRejected, store.bid(other1.ID).Status)
	assert.Equal(t, models.BidStatusRejected, store.bid(other2.ID).Status)
	assert.Equal(t, models.JobStatusInProgress, store.job(job.ID).Status)
	assert.Equal(t, 2, store.auditCount(tableBids, "reject"))
}

func TestBidService_AcceptBid_OnlyJobOwner(t *testing.T) {
	store := newMemStore()
	employerID := store.addUser(models.UserRoleUser)
	workerID := store.addUser(models.UserRoleUser)
	stranger := store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Дизайн логотипа")
	bid := store.addBid(job.ID, workerID, "300")

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	_, err := svc.AcceptBid(context.Background(), userActor(stranger), bid.ID)
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.AcceptBid(context.Background(), Actor{}, bid.ID)
	assert.Equal(t, apperror.ErrCodeUnauthorized, apperror.CodeOf(err))

	assert.Equal(t, models.BidStatusPending, store.bid(bid.ID).Status)
	projects, _ := store.counts()
	assert.Zero(t, projects)
}

func TestBidService_AcceptBid_OwnBidAndMissingBid(t *testing.T) {
	store := newMemStore()
	employerID := store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Парсер")
	own := store.addBid(job.ID, employerID, "100")

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	_, err := svc.AcceptBid(context.Background(), userActor(employerID), own.ID)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.AcceptBid(context.Background(), userActor(employerID), uuid.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestBidService_AcceptBid_SecondAcceptConflicts(t *testing.T) {
	store := newMemStore()
	employerID, _, res := acceptedProject(t, store, "500")

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	_, err := svc.AcceptBid(context.Background(), userActor(employerID), res.Project.BidID)
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Reference, "bids:"+res.Project.BidID.String())

	projects, contracts := store.counts()
	assert.Equal(t, 1, projects)
	assert.Equal(t, 1, contracts)
}

func TestBidService_AcceptBid_ConcurrentAcceptsOnSameJob(t *testing.T) {
	store := newMemStore()
	employerID := store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Интеграция CRM")

	var bids []models.Bid
	for i := 0; i < 5; i++ {
		bids = append(bids, store.addBid(job.ID, store.addUser(models.UserRoleUser), "700"))
	}

	svc := NewBidService(store, stubCompliance{}, fivePercent(t), "usd", nil)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, b := range bids {
		wg.Add(1)
		go func(bidID uuid.UUID) {
			defer wg.Done()
			_, err := svc.AcceptBid(context.Background(), userActor(employerID), bidID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperror.IsConflict(err) {
				conflicts++
			}
		}(b.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(bids)-1, conflicts)
	projects, contracts := store.counts()
	assert.Equal(t, 1, projects)
	assert.Equal(t, 1, contracts)
}

func TestBidService_AcceptBid_ComplianceBlocked(t *testing.T) {
	store := newMemStore()
	employerID := store.addUser(models.UserRoleUser)
	workerID := store.addUser(models.UserRoleUser)
	job := store.addJob(employerID, "Аудит безопасности")
	bid := store.addBid(job.ID, workerID, "2500")

	gate := stubCompliance{blocked: map[uuid.UUID]bool{workerID: true}}
	svc := NewBidService(store, gate, fivePercent(t), "usd", nil)
	_, err := svc.AcceptBid(context.Background(), userActor(employerID), bid.ID)
	assert.True(t, apperror.IsComplianceBlocked(err))

	assert.Equal(t, models.JobStatusOpen, store.job(job.ID).Status)
	assert.Equal(t, models.BidStatusPending, store.bid(bid.ID).Status)
}
