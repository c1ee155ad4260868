package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

const renderTimeout = 30 * time.Second

// ContractService ведёт контракт через подписание сторонами.
type ContractService struct {
	store    domainrepo.Store
	renderer DocumentRenderer
	notifier Notifier
	now      func() time.Time
}

func NewContractService(store domainrepo.Store, renderer DocumentRenderer, notifier Notifier) *ContractService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ContractService{
		store:    store,
		renderer: renderer,
		notifier: notifier,
		now:      time.Now,
	}
}

// ContractView контракт глазами конкретного участника.
type ContractView struct {
	Contract   *models.Contract           `json:"contract"`
	Signatures []models.ContractSignature `json:"signatures"`
	Role       string                     `json:"role"`
	NextSigner string                     `json:"next_signer"`
}

// SignInput данные подписи. Адрес и user-agent берутся из Actor.
type SignInput struct {
	FullName string `json:"full_name"`
}

func (s *ContractService) load(ctx context.Context, contractID uuid.UUID) (*models.Contract, []models.ContractSignature, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, orNotFound(err, apperror.ErrContractNotFound)
	}
	sigs, err := s.store.ListSignatures(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	return contract, sigs, nil
}

// Get возвращает контракт стороне. Исполнитель видит его только после подписи заказчика.
func (s *ContractService) Get(ctx context.Context, actor Actor, contractID uuid.UUID) (*ContractView, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	contract, sigs, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}

	state := entity.NewContract(contract, sigs)
	role := state.RoleOf(actor.UserID)
	if !actor.IsAdmin() {
		if err := state.CanView(role); err != nil {
			return nil, err
		}
	}
	return &ContractView{
		Contract:   contract,
		Signatures: sigs,
		Role:       role.String(),
		NextSigner: state.NextSigner().String(),
	}, nil
}

// NextSigner сообщает, чья подпись ожидается. Доступно обеим сторонам в любой момент.
func (s *ContractService) NextSigner(ctx context.Context, actor Actor, contractID uuid.UUID) (valueobject.Role, error) {
	if err := actor.authenticated(); err != nil {
		return valueobject.RoleNone, err
	}
	contract, sigs, err := s.load(ctx, contractID)
	if err != nil {
		return valueobject.RoleNone, err
	}
	state := entity.NewContract(contract, sigs)
	if !state.RoleOf(actor.UserID).IsParty() && !actor.IsAdmin() {
		return valueobject.RoleNone, apperror.Forbidden("вы не являетесь стороной контракта")
	}
	return state.NextSigner(), nil
}

// Sign записывает подпись стороны. Все правила проверяются повторно под блокировкой строки контракта.
func (s *ContractService) Sign(ctx context.Context, actor Actor, contractID uuid.UUID, in SignInput) (*ContractView, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	fullName, err := validation.SignerName(in.FullName)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	// Быстрый отказ до транзакции.
	contract, sigs, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	pre := entity.NewContract(contract, sigs)
	if err := pre.CheckSign(pre.RoleOf(actor.UserID)); err != nil {
		return nil, err
	}

	var (
		updated   *models.Contract
		allSigs   []models.ContractSignature
		role      valueobject.Role
		completed bool
	)
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		locked, err := tx.LockContract(ctx, contractID)
		if err != nil {
			return orNotFound(err, apperror.ErrContractNotFound)
		}
		current, err := tx.ListSignatures(ctx, contractID)
		if err != nil {
			return err
		}

		state := entity.NewContract(locked, current)
		role = state.RoleOf(actor.UserID)
		signedAt := s.now().UTC()
		before := statusOf(locked.Status)

		next, err := state.Sign(role, signedAt)
		if err != nil {
			return err
		}

		hash, err := entity.ContentHash(locked)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось вычислить хэш контракта")
		}
		sig := &models.ContractSignature{
			ID:          uuid.New(),
			ContractID:  contractID,
			SignerID:    actor.UserID,
			Role:        string(role),
			FullName:    fullName,
			IPAddress:   actor.IPAddress,
			UserAgent:   validation.Truncate(actor.UserAgent, validation.MaxUserAgentLength),
			ContentHash: hash,
			SignedAt:    signedAt,
		}
		if err := tx.InsertSignature(ctx, sig); err != nil {
			return conflictOnUnique(err, "контракт уже подписан этой стороной", tableContracts, contractID)
		}

		switch role {
		case valueobject.RoleEmployer:
			locked.EmployerSignedAt = &signedAt
		case valueobject.RoleWorker:
			locked.WorkerSignedAt = &signedAt
		}
		locked.Status = string(next)

		records := []*models.AuditRecord{
			audit(tableSignatures, sig.ID, "create", actorRef(actor), nil, sig, "sign_"+string(role)),
		}

		if next == valueobject.ContractStatusFullySigned {
			completed = true
			locked.FullySignedAt = &signedAt

			project, err := tx.LockProject(ctx, locked.ProjectID)
			if err != nil {
				return orNotFound(err, apperror.ErrProjectNotFound)
			}
			if project.Status != models.ProjectStatusActive {
				return apperror.Conflict("проект уже не активен", tableProjects, project.ID)
			}
			project.ContractSigned = true
			if err := tx.UpdateProject(ctx, project); err != nil {
				return err
			}
			records = append(records, audit(tableProjects, project.ID, "contract_signed", actorRef(actor),
				map[string]bool{"contract_signed": false}, map[string]bool{"contract_signed": true}, ""))
		}

		if err := tx.UpdateContract(ctx, locked); err != nil {
			return err
		}
		records = append(records, audit(tableContracts, contractID, "sign", actorRef(actor), before, statusOf(locked.Status), "sign_"+string(role)))
		if err := tx.InsertAudit(ctx, records...); err != nil {
			return err
		}

		updated = locked
		allSigs = append(current, *sig)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L().WithFields(logrus.Fields{
		"contract_id": contractID,
		"role":        role.String(),
		"status":      updated.Status,
	}).Info("contract signed")

	other := updated.WorkerID
	if role == valueobject.RoleWorker {
		other = updated.EmployerID
	}
	notifyAsync(s.notifier, EventContractSigned, map[string]any{
		"contract_id": contractID,
		"signed_by":   role.String(),
		"status":      updated.Status,
	}, other)

	if completed {
		s.renderAsync(updated, allSigs)
	}

	state := entity.NewContract(updated, allSigs)
	return &ContractView{
		Contract:   updated,
		Signatures: allSigs,
		Role:       role.String(),
		NextSigner: state.NextSigner().String(),
	}, nil
}

// Cancel отменяет контракт и проект. Доступно только заказчику и только до полного подписания.
func (s *ContractService) Cancel(ctx context.Context, actor Actor, contractID uuid.UUID, reason string) (*models.Contract, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	reason, err := validation.Reason(reason, true)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var cancelled *models.Contract
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		locked, err := tx.LockContract(ctx, contractID)
		if err != nil {
			return orNotFound(err, apperror.ErrContractNotFound)
		}
		sigs, err := tx.ListSignatures(ctx, contractID)
		if err != nil {
			return err
		}
		state := entity.NewContract(locked, sigs)
		if err := state.CheckCancel(state.RoleOf(actor.UserID)); err != nil {
			return err
		}

		now := s.now().UTC()
		before := statusOf(locked.Status)
		locked.Status = models.ContractStatusCancelled
		locked.CancelledAt = &now
		locked.CancelledBy = actorRef(actor)
		locked.CancelReason = &reason
		if err := tx.UpdateContract(ctx, locked); err != nil {
			return err
		}

		project, err := tx.LockProject(ctx, locked.ProjectID)
		if err != nil {
			return orNotFound(err, apperror.ErrProjectNotFound)
		}
		records := []*models.AuditRecord{
			audit(tableContracts, contractID, "cancel", actorRef(actor), before, statusOf(locked.Status), reason),
		}
		if valueobject.ProjectStatus(project.Status).CanTransitionTo(valueobject.ProjectStatusCancelled) {
			projectBefore := statusOf(project.Status)
			project.Status = models.ProjectStatusCancelled
			project.CancelReason = &reason
			if err := tx.UpdateProject(ctx, project); err != nil {
				return err
			}
			records = append(records, audit(tableProjects, project.ID, "cancel", actorRef(actor), projectBefore, statusOf(project.Status), reason))
		}
		if err := tx.InsertAudit(ctx, records...); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifyAsync(s.notifier, EventContractCancelled, map[string]any{
		"contract_id": contractID,
		"reason":      reason,
	}, cancelled.WorkerID)
	return cancelled, nil
}

// RenderDocument повторно строит документ полностью подписанного контракта.
func (s *ContractService) RenderDocument(ctx context.Context, actor Actor, contractID uuid.UUID) (string, error) {
	if err := actor.authenticated(); err != nil {
		return "", err
	}
	contract, sigs, err := s.load(ctx, contractID)
	if err != nil {
		return "", err
	}
	state := entity.NewContract(contract, sigs)
	if !state.RoleOf(actor.UserID).IsParty() && !actor.IsAdmin() {
		return "", apperror.Forbidden("вы не являетесь стороной контракта")
	}
	if contract.Status != models.ContractStatusFullySigned {
		return "", apperror.Conflict("документ доступен только для подписанного контракта", tableContracts, contractID)
	}
	if s.renderer == nil {
		return "", apperror.New(apperror.ErrCodeInternal, "рендеринг документов не настроен")
	}
	return s.renderAndSave(ctx, actorRef(actor), contract, sigs)
}

// renderAndSave строит документ и сохраняет ссылку на него вместе с записью аудита.
// actor равен nil для фонового рендеринга после подписания.
func (s *ContractService) renderAndSave(ctx context.Context, actor *uuid.UUID, contract *models.Contract, sigs []models.ContractSignature) (string, error) {
	ref, err := s.renderer.RenderAndStore(ctx, contract, sigs)
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать документ контракта")
	}
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		locked, err := tx.LockContract(ctx, contract.ID)
		if err != nil {
			return err
		}
		before := map[string]*string{"document_ref": locked.DocumentRef}
		if err := tx.SetContractDocument(ctx, contract.ID, ref); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit(tableContracts, contract.ID, "document_rendered", actor,
			before, map[string]string{"document_ref": ref}, ""))
	})
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить ссылку на документ")
	}
	return ref, nil
}

// renderAsync строит документ в фоне. Ошибка не влияет на подписание и лечится RenderDocument.
func (s *ContractService) renderAsync(contract *models.Contract, sigs []models.ContractSignature) {
	if s.renderer == nil {
		return
	}
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
		defer cancel()

		if _, err := s.renderAndSave(ctx, nil, contract, sigs); err != nil {
			logger.L().WithField("contract_id", contract.ID).WithError(err).Warn("contract document rendering failed")
		}
	})
}
