package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"eduhub-gateway/internal/provider"
)

// BuildResultCacheKey builds a ResultCacheKey from:
//   - the feature id (chat, quiz, grading, ...) that issued the request,
//   - the GenerationRequest itself,
//   - versionID (gateway version for invalidation).
//
// It normalizes the request into a stable string, hashes it with SHA-256,
// and fills the ResultCacheKey struct. The language lives in the key scope
// rather than the hash so per-language entries are inspectable.
func BuildResultCacheKey(
	feature string,
	req *provider.GenerationRequest,
	versionID string,
) (ResultCacheKey, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ResultCacheKey{}, err
	}

	normalized := "model:" + strings.TrimSpace(req.Model) + "|body:" + string(body)

	sum := sha256.Sum256([]byte(normalized))
	hash := hex.EncodeToString(sum[:])

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "en"
	}

	return ResultCacheKey{
		Feature:   strings.TrimSpace(feature),
		Language:  language,
		VersionID: strings.TrimSpace(versionID),
		Hash:      hash,
	}, nil
}
