package publish

import (
	"fmt"
	"strings"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/model"
)

// stageError is a typed failure that ends a pipeline stage.
type stageError struct {
	code model.FailureCode
	msg  string
}

func (e *stageError) Error() string { return e.msg }

func failf(code model.FailureCode, format string, args ...any) *stageError {
	return &stageError{code: code, msg: fmt.Sprintf(format, args...)}
}

// selectAsset picks the playable asset from the advertiser's current assets.
// assets must already be ordered largest first, most recent first.
func selectAsset(assets []model.Asset) (*model.Asset, *stageError) {
	if len(assets) == 0 {
		return nil, failf(model.CodeAssetMissing, "advertiser has no current assets")
	}

	var processing, uploaded, failed int
	for i := range assets {
		a := &assets[i]
		switch a.Status {
		case model.AssetStatusReadyForRemote:
			if a.RemoteMediaID == nil || *a.RemoteMediaID <= 0 {
				return nil, failf(model.CodeRemoteMediaMissing, "asset %s is ready but has no remote media", a.ID)
			}
			return a, nil
		case model.AssetStatusNormalizing:
			processing++
		case model.AssetStatusUploaded:
			uploaded++
		case model.AssetStatusFailed:
			failed++
		}
	}

	switch {
	case processing > 0:
		return nil, failf(model.CodeAssetProcessing, "%d asset(s) still normalizing", processing)
	case uploaded > 0:
		return nil, failf(model.CodeAssetNotNormalized, "%d asset(s) uploaded but not normalized", uploaded)
	case failed > 0:
		return nil, failf(model.CodeAssetFailed, "normalization failed for %d asset(s)", failed)
	default:
		return nil, failf(model.CodeAssetMissing, "no asset in a known status")
	}
}

var readyMediaStatuses = map[string]bool{
	"ready":     true,
	"processed": true,
	"available": true,
	"active":    true,
}

// mediaReady checks that remote media can be played.
func mediaReady(m *controlplane.Media) *stageError {
	if !readyMediaStatuses[strings.ToLower(m.Status)] {
		return failf(model.CodeMediaNotReady, "media %d has status %q", m.ID, m.Status)
	}
	if m.FileSize <= 0 {
		return failf(model.CodeMediaEmpty, "media %d has no file content", m.ID)
	}
	return nil
}

// normalizeTargets trims, drops blanks and removes duplicates, keeping order.
func normalizeTargets(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
