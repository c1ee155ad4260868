package valueobject

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// MoneyScale задаёт количество знаков после запятой у сумм в единственной валюте платформы.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney проверяет сумму платежа: положительная, не более двух знаков, не выше лимита.
// Нулевой max означает отсутствие лимита.
func NewMoney(amount decimal.Decimal, currency string, max decimal.Decimal) (Money, error) {
	if !amount.IsPositive() {
		return Money{}, apperror.Validation("сумма должна быть положительной")
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return Money{}, apperror.Validation("сумма может содержать не более двух знаков после запятой")
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return Money{}, apperror.Validation(fmt.Sprintf("сумма не может превышать %s", max.StringFixed(MoneyScale)))
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, apperror.Validation("валюта обязательна")
	}
	return Money{Amount: amount.Round(MoneyScale), Currency: currency}, nil
}

// MinorUnits переводит сумму в минимальные единицы валюты (центы).
func (m Money) MinorUnits() int64 {
	return m.Amount.Shift(MoneyScale).IntPart()
}

// FromMinorUnits обратное преобразование к MinorUnits.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MoneyScale)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(MoneyScale), strings.ToUpper(m.Currency))
}

// FeePolicy хранит единственный процент комиссии платформы.
// Используется и при принятии ставки, и при выплате.
type FeePolicy struct {
	percent decimal.Decimal
}

func NewFeePolicy(percent decimal.Decimal) (FeePolicy, error) {
	if percent.IsNegative() || percent.GreaterThanOrEqual(hundred) {
		return FeePolicy{}, apperror.Validation("процент комиссии должен быть в диапазоне [0, 100)")
	}
	return FeePolicy{percent: percent}, nil
}

func (p FeePolicy) Percent() decimal.Decimal {
	return p.percent
}

// Split делит сумму на комиссию платформы и чистую выплату исполнителю.
// fee + net всегда равно amount.
func (p FeePolicy) Split(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(p.percent).Div(hundred).Round(MoneyScale)
	net = amount.Sub(fee)
	return fee, net
}
