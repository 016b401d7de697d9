package masking

import "strings"

const maskToken = "****"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of input with the named keys masked. Keys named
// email are masked as addresses.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		str, isString := value.(string)
		if _, ok := sensitive[strings.ToLower(trimmedKey)]; ok && isString {
			if strings.EqualFold(trimmedKey, "email") {
				masked[trimmedKey] = MaskEmail(str)
			} else {
				masked[trimmedKey] = MaskSecret(str)
			}
			continue
		}
		masked[trimmedKey] = value
	}
	return masked
}
