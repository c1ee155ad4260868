package models

// Роли пользователей платформы
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// Статусы KYC
const (
	KYCStatusNone     = "none"
	KYCStatusPending  = "pending"
	KYCStatusVerified = "verified"
)

// JobStatus константы статусов работ
const (
	JobStatusOpen       = "open"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// BidStatus константы статусов ставок
const (
	BidStatusPending   = "pending"
	BidStatusAccepted  = "accepted"
	BidStatusRejected  = "rejected"
	BidStatusWithdrawn = "withdrawn"
)

// ProjectStatus константы статусов проектов
const (
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
	ProjectStatusCancelled = "cancelled"
)

// ContractStatus константы статусов контрактов
const (
	ContractStatusPendingEmployer = "pending_employer"
	ContractStatusPendingWorker   = "pending_worker"
	ContractStatusFullySigned     = "fully_signed"
	ContractStatusCancelled       = "cancelled"
)

// Роли сторон контракта
const (
	SignerRoleEmployer = "employer"
	SignerRoleWorker   = "worker"
)
