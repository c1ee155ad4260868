package document

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
)

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) Save(ctx context.Context, contractID uuid.UUID, name string, data []byte) (*storage.StoredDocument, error) {
	args := m.Called(ctx, contractID, name, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.StoredDocument), args.Error(1)
}

func signedContract() (*models.Contract, []models.ContractSignature) {
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &models.Contract{
		ID:            uuid.New(),
		ProjectID:     uuid.New(),
		Title:         "Лендинг",
		Terms:         "Сверстать лендинг за 10 дней",
		AgreedAmount:  decimal.RequireFromString("1000"),
		Currency:      "usd",
		Status:        models.ContractStatusFullySigned,
		FullySignedAt: &signedAt,
	}
	sigs := []models.ContractSignature{
		{Role: models.SignerRoleEmployer, FullName: "Иван Заказчиков", SignedAt: signedAt.Add(-time.Hour), IPAddress: "10.0.0.1", ContentHash: "sha3-256:aa"},
		{Role: models.SignerRoleWorker, FullName: "Пётр Исполнителев", SignedAt: signedAt, IPAddress: "10.0.0.2", ContentHash: "sha3-256:aa"},
	}
	return c, sigs
}

func TestRenderer_RenderIsDeterministic(t *testing.T) {
	c, sigs := signedContract()
	r := NewRenderer(nil)

	first, err := r.Render(c, sigs)
	require.NoError(t, err)
	second, err := r.Render(c, sigs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "1000.00 USD")
	assert.Contains(t, string(first), "Пётр Исполнителев")
	assert.Contains(t, string(first), "2026-03-01T12:00:00Z")
}

func TestRenderer_RenderAndStore(t *testing.T) {
	c, sigs := signedContract()
	saver := new(mockSaver)
	saver.On("Save", mock.Anything, c.ID, "contract.txt", mock.Anything).
		Return(&storage.StoredDocument{Path: c.ID.String() + "/contract_1.txt"}, nil)

	ref, err := NewRenderer(saver).RenderAndStore(context.Background(), c, sigs)

	require.NoError(t, err)
	assert.Equal(t, c.ID.String()+"/contract_1.txt", ref)
	saver.AssertExpectations(t)
}

func TestRenderer_RefusesUnsignedContract(t *testing.T) {
	c, sigs := signedContract()
	c.Status = models.ContractStatusPendingWorker
	saver := new(mockSaver)

	_, err := NewRenderer(saver).RenderAndStore(context.Background(), c, sigs)

	assert.Error(t, err)
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
