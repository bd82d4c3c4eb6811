package domain

// Action 是清扫器执行的一类修复动作，同时作为指标标签。
type Action string

const (
	ActionFinalizeCapture Action = "finalize_captured"
	ActionFlagReview      Action = "flag_review"
	ActionVoid            Action = "void_authorization"
	ActionVoidFailed      Action = "void_failed"
	ActionExpireHold      Action = "expire_hold"
	ActionReleaseOrphan   Action = "release_orphan"
	ActionSkipBusy        Action = "skip_busy"
)
