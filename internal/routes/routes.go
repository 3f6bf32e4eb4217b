// Package routes defines HTTP route constants for the application.
package routes

// Top level
const (
	RobotsPath  = "/robots.txt"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
	WebhookUser = "/webhook/user"

	RootPath   = "/"
	SSEPath    = "/sse"
	SearchPath = "/search"
)

// Library and blog, relative to their section
const (
	ItemPath      = "/{id}"
	ItemViews     = "/{id}/views"
	UploadPDF     = "/upload"
	PostLike      = "/{id}/like"
	PostComments  = "/{id}/comments"
	PostComment   = "/{id}/comments/{cid}"
	DraftDelete   = "/drafts/{id}"
	EditorNew     = "/new"
	EditorPost    = "/post/{id}"
	EditorDraft   = "/draft/{id}"
	EditorPreview = "/preview"
	EditorSession = "/{session}"
	EditorEdit    = "/{session}/edit"
	EditorPublish = "/{session}/publish"
)

// Requests, reviews and moderation
const (
	RequestPDF       = "/requests/pdf"
	RequestCopyright = "/requests/copyright"
	Reviews          = "/reviews"

	AdminPrefix   = "/admin"
	AdminRequests = "/requests"
	AdminResolve  = "/requests/{collection}/{id}/resolve"
)

// Account
const (
	AuthLogout    = "/auth/logout"
	AuthChallenge = "/auth/challenge"
	AuthVerify    = "/auth/verify"
	Profile       = "/profile"
)
