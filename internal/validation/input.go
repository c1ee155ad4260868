package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxSignerNameLength     = 255
	MaxReasonLength         = 500
	MaxIdempotencyKeyLength = 255
	MaxUserAgentLength      = 512
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// SignerName нормализует и проверяет полное имя подписанта.
// Допускаются буквы любых алфавитов, пробелы, дефис, точка и апостроф.
func SignerName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if err := ValidateNonEmpty("полное имя подписанта", name); err != nil {
		return "", err
	}
	if err := ValidateLength("полное имя подписанта", name, 0, MaxSignerNameLength); err != nil {
		return "", err
	}
	hasLetter := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case r == ' ', r == '-', r == '.', r == '\'', r == '’':
		default:
			return "", fmt.Errorf("полное имя подписанта содержит недопустимый символ %q", r)
		}
	}
	if !hasLetter {
		return "", fmt.Errorf("полное имя подписанта должно содержать буквы")
	}
	return name, nil
}

// Reason проверяет причину отмены или возврата. Возвращает строку без крайних пробелов.
func Reason(value string, required bool) (string, error) {
	value = strings.TrimSpace(value)
	if required {
		if err := ValidateNonEmpty("причина", value); err != nil {
			return "", err
		}
	}
	if err := ValidateLength("причина", value, 0, MaxReasonLength); err != nil {
		return "", err
	}
	if strings.IndexFunc(value, isForbiddenControl) >= 0 {
		return "", fmt.Errorf("причина содержит управляющие символы")
	}
	return value, nil
}

// IdempotencyKey проверяет ключ идемпотентности из заголовка. Пустой ключ допустим.
func IdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) > MaxIdempotencyKeyLength {
		return "", fmt.Errorf("ключ идемпотентности должен быть не более %d символов", MaxIdempotencyKeyLength)
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return "", fmt.Errorf("ключ идемпотентности может содержать только видимые ASCII символы")
		}
	}
	return key, nil
}

// Truncate обрезает строку до max рун.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func isForbiddenControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}
