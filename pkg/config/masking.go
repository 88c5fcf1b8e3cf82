package config

import "strings"

// sensitiveKey reports whether a config key holds credential material.
// Covers "api_key", "api_keys" sub-maps, and token/secret fields.
func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "api_key") || k == "secret" || k == "token" || k == "password"
}

// MaskSecrets returns a deep copy of cfg with credential values replaced by
// a masked form: long keys keep their last four characters for
// recognizability, short ones become "****". Unexpanded ${ENV_VAR}
// placeholders pass through untouched — they carry no secret material.
func MaskSecrets(cfg map[string]any) map[string]any {
	out, _ := maskValue(cfg, false).(map[string]any)
	return out
}

func maskValue(v any, sensitive bool) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = maskValue(vv, sensitive || sensitiveKey(k))
		}
		return out
	case map[any]any:
		m, ok := toStringMap(x)
		if !ok {
			return x
		}
		return maskValue(m, sensitive)
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = maskValue(vv, sensitive)
		}
		return out
	case string:
		if sensitive {
			return maskString(x)
		}
		return x
	default:
		return x
	}
}

func maskString(s string) string {
	if s == "" || strings.HasPrefix(s, "${") {
		return s
	}
	if len(s) > 8 {
		return "****" + s[len(s)-4:]
	}
	return "****"
}
