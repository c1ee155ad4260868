package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Sandbox имитирует шлюз в памяти процесса. Используется в development и в тестах.
type Sandbox struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	byKey       map[string]string
	failures    map[string][]error
	autoSucceed bool
}

var _ Gateway = (*Sandbox)(nil)

// NewSandbox создаёт песочницу. При autoSucceed новые намерения сразу считаются оплаченными.
func NewSandbox(autoSucceed bool) *Sandbox {
	return &Sandbox{
		intents:     make(map[string]*Intent),
		byKey:       make(map[string]string),
		failures:    make(map[string][]error),
		autoSucceed: autoSucceed,
	}
}

func (s *Sandbox) CreateIntent(_ context.Context, req CreateIntentRequest) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure(opCreateIntent); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			return copyIntent(s.intents[id]), nil
		}
	}

	id := "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	status := IntentStatusRequiresPaymentMethod
	if s.autoSucceed {
		status = IntentStatusSucceeded
	}
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       status,
		Amount:       req.Amount,
		Currency:     strings.ToLower(req.Currency),
		Metadata:     metadata,
	}
	s.intents[id] = intent
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	return copyIntent(intent), nil
}

func (s *Sandbox) RetrieveIntent(_ context.Context, intentID string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure(opRetrieveIntent); err != nil {
		return nil, err
	}
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeGatewayRejected, fmt.Sprintf("платёжное намерение %s не найдено", intentID))
	}
	return copyIntent(intent), nil
}

// Succeed переводит намерение в succeeded, как после успешной оплаты картой.
func (s *Sandbox) Succeed(intentID string) error {
	return s.SetStatus(intentID, IntentStatusSucceeded)
}

func (s *Sandbox) Cancel(intentID string) error {
	return s.SetStatus(intentID, IntentStatusCanceled)
}

func (s *Sandbox) SetStatus(intentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return fmt.Errorf("sandbox: intent %s not found", intentID)
	}
	intent.Status = status
	return nil
}

// FailNext ставит ошибку в очередь: следующий вызов операции вернёт её.
// operation: "create_intent" или "retrieve_intent".
func (s *Sandbox) FailNext(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = append(s.failures[operation], err)
}

func (s *Sandbox) popFailure(operation string) error {
	queue := s.failures[operation]
	if len(queue) == 0 {
		return nil
	}
	s.failures[operation] = queue[1:]
	return queue[0]
}

func copyIntent(in *Intent) *Intent {
	out := *in
	out.Metadata = make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
