package storage

import (
	"fmt"

	"github.com/giantswarm/plugin-oauth/security"
)

// sensitiveExtraFields lists the claim keys that carry PII and must be
// encrypted at rest when an encryptor is configured. The subject identity
// produced by the login step lives here.
var sensitiveExtraFields = []string{"sub", "email", "name"}

// EncryptExtraFields returns a copy of the extra claims map with sensitive
// string fields encrypted. Non-string values and unknown keys pass through
// unchanged.
func EncryptExtraFields(extra map[string]any, enc *security.Encryptor) (map[string]any, error) {
	if extra == nil || enc == nil || !enc.IsEnabled() {
		return extra, nil
	}

	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}

	for _, key := range sensitiveExtraFields {
		if val, ok := out[key].(string); ok && val != "" {
			encrypted, err := enc.Encrypt(val)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt claim %q: %w", key, err)
			}
			out[key] = encrypted
		}
	}

	return out, nil
}

// DecryptExtraFields returns a copy of the extra claims map with sensitive
// string fields decrypted. The inverse of EncryptExtraFields.
func DecryptExtraFields(extra map[string]any, enc *security.Encryptor) (map[string]any, error) {
	if extra == nil || enc == nil || !enc.IsEnabled() {
		return extra, nil
	}

	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}

	for _, key := range sensitiveExtraFields {
		if val, ok := out[key].(string); ok && val != "" {
			decrypted, err := enc.Decrypt(val)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt claim %q: %w", key, err)
			}
			out[key] = decrypted
		}
	}

	return out, nil
}
