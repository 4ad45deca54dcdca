// Package protect provides protected area detection for sensitive files.
package protect

// DefaultPatterns defines glob patterns for protected areas: general
// sensitive-code locations plus the orchestrator's own on-disk state,
// since a task let loose on its own session/retry history could erase
// the record of what it's doing.
var DefaultPatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/migrations/**",
	"**/infra/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/keys/**",
	"**/.ssh/**",
	"**/terraform/**",
	"**/helm/**",
	"**/k8s/**",
	"**/kubernetes/**",
	"**/.obra/**",
	"**/.obra.yaml",
	"**/.obra-protect.yaml",
}

// DefaultKeywords defines substrings that indicate protected files,
// including the LLM and agent-driver credentials an orchestrated task
// could otherwise read or exfiltrate through its own prompt.
var DefaultKeywords = []string{
	"auth",
	"login",
	"password",
	"token",
	"secret",
	"key",
	"migration",
	"credential",
	"cert",
	"private",
	"encrypt",
	"decrypt",
	"oauth",
	"jwt",
	"session",
	"permission",
	"acl",
	"rbac",
	"apikey",
	"api_key",
	"bearer",
}

// DefaultFileTypes defines file extensions that are protected, including
// the sqlite files the orchestrator uses for its own task/session/retry
// state.
var DefaultFileTypes = []string{
	".sql",
	".tf",
	".pem",
	".key",
	".env",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".crt",
	".cer",
	".db",
}
