package valueobject

import "github.com/ignatzorin/freelance-escrow/internal/models"

type ContractStatus string

const (
	ContractStatusPendingEmployer ContractStatus = models.ContractStatusPendingEmployer
	ContractStatusPendingWorker   ContractStatus = models.ContractStatusPendingWorker
	ContractStatusFullySigned     ContractStatus = models.ContractStatusFullySigned
	ContractStatusCancelled       ContractStatus = models.ContractStatusCancelled
)

// IsTerminal сообщает, что контракт больше не может менять статус.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusFullySigned || s == ContractStatusCancelled
}

func (s ContractStatus) CanTransitionTo(newStatus ContractStatus) bool {
	transitions := map[ContractStatus][]ContractStatus{
		ContractStatusPendingEmployer: {ContractStatusPendingWorker, ContractStatusCancelled},
		ContractStatusPendingWorker:   {ContractStatusFullySigned, ContractStatusCancelled},
		ContractStatusFullySigned:     {},
		ContractStatusCancelled:       {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// Role описывает роль пользователя в конкретном контракте. Вычисляется один раз из
// неизменяемых полей контракта, а не из данных клиента.
type Role string

const (
	RoleNone     Role = ""
	RoleEmployer Role = models.SignerRoleEmployer
	RoleWorker   Role = models.SignerRoleWorker
)

func (r Role) IsParty() bool {
	return r == RoleEmployer || r == RoleWorker
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = models.ProjectStatusActive
	ProjectStatusCompleted ProjectStatus = models.ProjectStatusCompleted
	ProjectStatusCancelled ProjectStatus = models.ProjectStatusCancelled
)

func (s ProjectStatus) CanTransitionTo(newStatus ProjectStatus) bool {
	switch s {
	case ProjectStatusActive:
		return newStatus == ProjectStatusCompleted || newStatus == ProjectStatusCancelled
	default:
		return false
	}
}
