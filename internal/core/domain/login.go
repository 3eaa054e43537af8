package domain

// LoginState names the stages of the login state machine.
type LoginState string

const (
	LoginStateStart              LoginState = "start"
	LoginStateCredentialsChecked LoginState = "credentials_checked"
	LoginStateDeviceEvaluated    LoginState = "device_evaluated"
	LoginStateMFARequired        LoginState = "mfa_required"
	LoginStateSessionIssued      LoginState = "session_issued"
	LoginStateRejected           LoginState = "rejected"
)

// LoginMode distinguishes password logins from TOTP-only logins.
type LoginMode string

const (
	LoginModePassword LoginMode = "password"
	LoginModeMFAOnly  LoginMode = "mfa_only"
)
