package models

// Audit event actions describe what operation occurred.
const (
	AuditActionConsentRecorded     = "consent_recorded"      // visitor committed a decision
	AuditActionConsentNotPersisted = "consent_not_persisted" // decision governs the session but was not saved
	AuditActionConsentUpgraded     = "consent_upgraded"      // legacy record loaded and upgraded
)

// Audit event decisions record the outcome of the action.
const (
	AuditDecisionAcceptAll = "accept_all"
	AuditDecisionRejectAll = "reject_all"
	AuditDecisionCustom    = "custom"
)

// Audit event reasons explain why the action was taken.
const (
	AuditReasonUserInitiated = "user_initiated"
	AuditReasonLegacyRecord  = "legacy_record"
)
