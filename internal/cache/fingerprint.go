package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/promgate/llm-gateway/internal/providers"
)

// Fingerprint returns the deterministic exact-cache key for a normalized
// request: SHA-256 hex of its canonical JSON with sorted object keys.
//
// The canonical document always carries all four fields — an omitted
// max_tokens is serialized as an explicit null — so the key is stable across
// clients that do or don't send optional fields. The caller is expected to
// pass the post-scrub request: identical requests after redaction must land
// in the same cache slot.
func Fingerprint(req *providers.ChatRequest) string {
	msgs := make([]map[string]any, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
	}

	temperature := providers.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	var maxTokens any
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	// encoding/json serializes map keys in sorted order, which gives us the
	// canonical form for free.
	doc := map[string]any{
		"model":       req.Model,
		"messages":    msgs,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}

	data, _ := json.Marshal(doc)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
