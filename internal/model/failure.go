package model

// FailureCode is a machine-readable reason attached to a failed stage.
type FailureCode string

const (
	CodeAssetMissing         FailureCode = "ASSET_MISSING"
	CodeAssetNotNormalized   FailureCode = "ASSET_NOT_NORMALIZED"
	CodeAssetProcessing      FailureCode = "ASSET_PROCESSING"
	CodeAssetFailed          FailureCode = "ASSET_FAILED"
	CodeRemoteMediaMissing   FailureCode = "REMOTE_MEDIA_MISSING"
	CodeMediaNotFound        FailureCode = "MEDIA_NOT_FOUND"
	CodeMediaNotReady        FailureCode = "MEDIA_NOT_READY"
	CodeMediaEmpty           FailureCode = "MEDIA_EMPTY"
	CodeScreenNotFound       FailureCode = "SCREEN_NOT_FOUND"
	CodeScreenNotLinked      FailureCode = "SCREEN_NOT_LINKED"
	CodeProvisionFailed      FailureCode = "PROVISION_FAILED"
	CodeDriftRepairFailed    FailureCode = "DRIFT_REPAIR_FAILED"
	CodeUnknownItemFormat    FailureCode = "UNKNOWN_ITEM_FORMAT"
	CodePlaylistUpdateFailed FailureCode = "PLAYLIST_UPDATE_FAILED"
	CodePushFailed           FailureCode = "PUSH_FAILED"
	CodeVerifyFailed         FailureCode = "VERIFY_FAILED"
	CodeEmptyPlaylist        FailureCode = "EMPTY_PLAYLIST"
	CodeTransportError       FailureCode = "TRANSPORT_ERROR"
	CodeStorageError         FailureCode = "STORAGE_ERROR"
	CodeInternal             FailureCode = "INTERNAL"
)

// Action is the recommended next step an operator (or caller) should take.
type Action string

const (
	ActionWait         Action = "wait"
	ActionUpload       Action = "upload"
	ActionNormalize    Action = "normalize"
	ActionRetry        Action = "retry"
	ActionManualReview Action = "manual-review"
)

var actionByCode = map[FailureCode]Action{
	CodeAssetMissing:         ActionUpload,
	CodeAssetNotNormalized:   ActionNormalize,
	CodeAssetProcessing:      ActionWait,
	CodeAssetFailed:          ActionNormalize,
	CodeRemoteMediaMissing:   ActionUpload,
	CodeMediaNotFound:        ActionUpload,
	CodeMediaNotReady:        ActionWait,
	CodeMediaEmpty:           ActionUpload,
	CodeScreenNotFound:       ActionManualReview,
	CodeScreenNotLinked:      ActionManualReview,
	CodeProvisionFailed:      ActionRetry,
	CodeDriftRepairFailed:    ActionRetry,
	CodeUnknownItemFormat:    ActionManualReview,
	CodePlaylistUpdateFailed: ActionRetry,
	CodePushFailed:           ActionRetry,
	CodeVerifyFailed:         ActionRetry,
	CodeEmptyPlaylist:        ActionManualReview,
	CodeTransportError:       ActionRetry,
	CodeStorageError:         ActionRetry,
	CodeInternal:             ActionManualReview,
}

// ActionFor returns the recommended action for a failure code. Unmapped codes
// fall back to manual review so the action set stays closed.
func ActionFor(code FailureCode) Action {
	if a, ok := actionByCode[code]; ok {
		return a
	}
	return ActionManualReview
}

// FailureCodes returns every known failure code.
func FailureCodes() []FailureCode {
	codes := make([]FailureCode, 0, len(actionByCode))
	for c := range actionByCode {
		codes = append(codes, c)
	}
	return codes
}
