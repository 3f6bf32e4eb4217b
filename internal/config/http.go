package config

const (
	HCType        = "Content-Type"
	HETag         = "ETag"
	HCacheControl = "Cache-Control"

	HHxRedirect = "HX-Redirect"
	HHxRequest  = "HX-Request"
	HHxTrigger  = "HX-Trigger"

	CTypeCSS  = "text/css"
	CTypeHTML = "text/html; charset=utf-8"
	CTypeJSON = "application/json"
	CTypePDF  = "application/pdf"
)

const (
	HTTPErrMethodNotAllowed = "Method not allowed"
	HTTPErrUnauthorized     = "Unauthorized"
	HTTPErrForbidden        = "Forbidden"
	HTTPErrNotFound         = "Not found"
)

const (
	CookieEditorSession = "editor-session"
	CookieAdminToken    = "admin-token"

	HAdminSignature = "X-Admin-Signature"
)
