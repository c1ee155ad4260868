package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// BidService принимает ставки и создаёт проект с контрактом.
type BidService struct {
	store      domainrepo.Store
	compliance ComplianceGate
	fees       valueobject.FeePolicy
	currency   string
	notifier   Notifier
}

func NewBidService(store domainrepo.Store, compliance ComplianceGate, fees valueobject.FeePolicy, currency string, notifier Notifier) *BidService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &BidService{
		store:      store,
		compliance: compliance,
		fees:       fees,
		currency:   currency,
		notifier:   notifier,
	}
}

// AcceptBidResult результат принятия ставки.
type AcceptBidResult struct {
	Project      *models.Project  `json:"project"`
	Contract     *models.Contract `json:"contract"`
	RejectedBids []uuid.UUID      `json:"rejected_bids"`
}

// AcceptBid принимает ставку от имени владельца работы. Вся операция атомарна:
// отклонение остальных ставок, смена статуса работы, создание проекта и контракта.
func (s *BidService) AcceptBid(ctx context.Context, actor Actor, bidID uuid.UUID) (*AcceptBidResult, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}

	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, orNotFound(err, apperror.ErrBidNotFound)
	}
	job, err := s.store.GetJob(ctx, bid.JobID)
	if err != nil {
		return nil, orNotFound(err, apperror.ErrJobNotFound)
	}
	if job.EmployerID != actor.UserID {
		return nil, apperror.Forbidden("принять ставку может только автор работы")
	}
	if bid.WorkerID == job.EmployerID {
		return nil, apperror.Validation("нельзя принять собственную ставку")
	}
	if _, err := valueobject.NewMoney(bid.Amount, s.currency, decimal.Zero); err != nil {
		return nil, err
	}
	if err := checkCompliance(ctx, s.compliance, job.EmployerID, bid.WorkerID); err != nil {
		return nil, err
	}

	result := &AcceptBidResult{}
	var rejectedWorkers []uuid.UUID
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		lockedJob, err := tx.LockJob(ctx, job.ID)
		if err != nil {
			return orNotFound(err, apperror.ErrJobNotFound)
		}
		lockedBid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return orNotFound(err, apperror.ErrBidNotFound)
		}
		if lockedBid.Status != models.BidStatusPending {
			return apperror.Conflict("ставка уже обработана", tableBids, bidID)
		}
		if lockedJob.Status != models.JobStatusOpen {
			return apperror.Conflict("работа уже не принимает ставки", tableJobs, job.ID)
		}

		pending, err := tx.ListPendingBids(ctx, job.ID)
		if err != nil {
			return err
		}
		records := make([]*models.AuditRecord, 0, len(pending)+4)
		for _, other := range pending {
			if other.ID == bidID {
				continue
			}
			if err := tx.UpdateBidStatus(ctx, other.ID, models.BidStatusRejected); err != nil {
				return err
			}
			result.RejectedBids = append(result.RejectedBids, other.ID)
			rejectedWorkers = append(rejectedWorkers, other.WorkerID)
			records = append(records, audit(tableBids, other.ID, "reject", actorRef(actor),
				statusOf(other.Status), statusOf(models.BidStatusRejected), "bid_accepted_for_job"))
		}

		if err := tx.UpdateJobStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
			return err
		}
		records = append(records, audit(tableJobs, job.ID, "start", actorRef(actor),
			statusOf(lockedJob.Status), statusOf(models.JobStatusInProgress), "bid_accepted"))

		fee, net := s.fees.Split(lockedBid.Amount)
		project := &models.Project{
			ID:           uuid.New(),
			JobID:        job.ID,
			BidID:        bidID,
			EmployerID:   lockedJob.EmployerID,
			WorkerID:     lockedBid.WorkerID,
			AgreedAmount: lockedBid.Amount,
			PlatformFee:  fee,
			NetAmount:    net,
			Status:       models.ProjectStatusActive,
		}
		if err := tx.CreateProject(ctx, project); err != nil {
			return conflictOnUnique(err, "проект по этой ставке уже создан", tableBids, bidID)
		}
		records = append(records, audit(tableProjects, project.ID, "create", actorRef(actor), nil, project, "bid_accepted"))

		contract := &models.Contract{
			ID:           uuid.New(),
			ProjectID:    project.ID,
			EmployerID:   project.EmployerID,
			WorkerID:     project.WorkerID,
			Title:        lockedJob.Title,
			Terms:        lockedBid.Proposal,
			AgreedAmount: project.AgreedAmount,
			Currency:     s.currency,
			Status:       models.ContractStatusPendingEmployer,
		}
		if err := tx.CreateContract(ctx, contract); err != nil {
			return conflictOnUnique(err, "контракт по проекту уже создан", tableProjects, project.ID)
		}
		records = append(records, audit(tableContracts, contract.ID, "create", actorRef(actor), nil, contract, "bid_accepted"))

		if err := tx.UpdateBidStatus(ctx, bidID, models.BidStatusAccepted); err != nil {
			return conflictOnUnique(err, "по работе уже есть принятая ставка", tableJobs, job.ID)
		}
		records = append(records, audit(tableBids, bidID, "accept", actorRef(actor),
			statusOf(lockedBid.Status), statusOf(models.BidStatusAccepted), ""))

		if err := tx.InsertAudit(ctx, records...); err != nil {
			return err
		}

		result.Project = project
		result.Contract = contract
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L().WithFields(logrus.Fields{
		"bid_id":     bidID,
		"job_id":     job.ID,
		"project_id": result.Project.ID,
		"rejected":   len(result.RejectedBids),
	}).Info("bid accepted")

	notifyAsync(s.notifier, EventBidAccepted, map[string]any{
		"bid_id":      bidID,
		"project_id":  result.Project.ID,
		"contract_id": result.Contract.ID,
	}, bid.WorkerID)
	notifyAsync(s.notifier, EventBidRejected, map[string]any{"job_id": job.ID}, rejectedWorkers...)

	return result, nil
}

func statusOf(status string) map[string]string {
	return map[string]string{"status": status}
}
