package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
)

// Saver сохраняет отрендеренный документ.
type Saver interface {
	Save(ctx context.Context, contractID uuid.UUID, name string, data []byte) (*storage.StoredDocument, error)
}

const contractTemplate = `ДОГОВОР № {{ .Contract.ID }}

Проект: {{ .Contract.ProjectID }}
Предмет: {{ .Contract.Title }}
Сумма: {{ .Amount }} {{ .Currency }}

Условия:
{{ .Contract.Terms }}

Подписи сторон:
{{- range .Signatures }}
  {{ .Role }}: {{ .FullName }}, {{ .SignedAt.UTC.Format "2006-01-02 15:04:05 MST" }}, IP {{ .IPAddress }}
  Хэш условий: {{ .ContentHash }}
{{- end }}

Договор полностью подписан: {{ .FullySignedAt }}
`

var tmpl = template.Must(template.New("contract").Parse(contractTemplate))

// Renderer формирует текст договора и кладёт его в хранилище.
type Renderer struct {
	saver Saver
}

func NewRenderer(saver Saver) *Renderer {
	return &Renderer{saver: saver}
}

type view struct {
	Contract      *models.Contract
	Signatures    []models.ContractSignature
	Amount        string
	Currency      string
	FullySignedAt string
}

// Render строит текст договора. Результат детерминирован для одинаковых входных данных.
func (r *Renderer) Render(contract *models.Contract, signatures []models.ContractSignature) ([]byte, error) {
	signedAt := "-"
	if contract.FullySignedAt != nil {
		signedAt = contract.FullySignedAt.UTC().Format(time.RFC3339)
	}
	v := view{
		Contract:      contract,
		Signatures:    signatures,
		Amount:        contract.AgreedAmount.StringFixed(valueobject.MoneyScale),
		Currency:      strings.ToUpper(contract.Currency),
		FullySignedAt: signedAt,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("document: render contract %s: %w", contract.ID, err)
	}
	return buf.Bytes(), nil
}

// RenderAndStore рендерит полностью подписанный договор и возвращает ссылку на документ.
func (r *Renderer) RenderAndStore(ctx context.Context, contract *models.Contract, signatures []models.ContractSignature) (string, error) {
	if contract.Status != models.ContractStatusFullySigned {
		return "", fmt.Errorf("document: contract %s is not fully signed", contract.ID)
	}
	data, err := r.Render(contract, signatures)
	if err != nil {
		return "", err
	}
	doc, err := r.saver.Save(ctx, contract.ID, "contract.txt", data)
	if err != nil {
		return "", fmt.Errorf("document: store contract %s: %w", contract.ID, err)
	}
	return doc.Path, nil
}
