package audit

// Action tags a security-relevant event.
type Action string

// Authentication
const (
	ActionLoginSuccess           Action = "LOGIN_SUCCESS"
	ActionLoginFailed            Action = "LOGIN_FAILED"
	ActionLogout                 Action = "LOGOUT"
	ActionRegister               Action = "REGISTER"
	ActionLoginRateLimitExceeded Action = "LOGIN_RATE_LIMIT_EXCEEDED"
	ActionTokenRefreshed         Action = "TOKEN_REFRESHED"
	ActionTokenRefreshFailed     Action = "TOKEN_REFRESH_FAILED"
	ActionPasswordChanged        Action = "PASSWORD_CHANGED"
)

// Access control
const (
	ActionRateLimitExceeded    Action = "RATE_LIMIT_EXCEEDED"
	ActionCSRFValidationFailed Action = "CSRF_VALIDATION_FAILED"
	ActionUnauthorizedAccess   Action = "UNAUTHORIZED_ACCESS"
	ActionForbiddenAccess      Action = "FORBIDDEN_ACCESS"
)

// Uploads
const (
	ActionUploadInvalidFileType    Action = "UPLOAD_INVALID_FILE_TYPE"
	ActionUploadFileTooLarge       Action = "UPLOAD_FILE_TOO_LARGE"
	ActionUploadDangerousExtension Action = "UPLOAD_DANGEROUS_EXTENSION"
	ActionUploadFileValidated      Action = "UPLOAD_FILE_VALIDATED"
)

// Administration
const (
	ActionUserCreated   Action = "USER_CREATED"
	ActionUserUpdated   Action = "USER_UPDATED"
	ActionUserDeleted   Action = "USER_DELETED"
	ActionBackupCreated Action = "BACKUP_CREATED"
	ActionBackupFailed  Action = "BACKUP_FAILED"
)

// Financial mutations
const (
	ActionFinancialCreate Action = "FINANCIAL_CREATE"
	ActionFinancialUpdate Action = "FINANCIAL_UPDATE"
	ActionFinancialDelete Action = "FINANCIAL_DELETE"
)

// Status is the outcome recorded with an entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)
