package config

const (
	// Store errors
	ErrInitializeStoreFmt = "Failed to initialize document store: %v"
	ErrGetPostsFmt        = "Failed to get posts: %v"

	// Auth errors
	ErrLoginRequired       = "Please sign in to continue"
	ErrInternalServerError = "Internal server error"
	ErrInvalidSignature    = "Invalid signature"
	ErrForbiddenAction     = "You are not allowed to do that"

	// Upload errors
	ErrOnlyPDF      = "Only PDF files can be uploaded"
	ErrUploadFailed = "Upload failed, please try again"
	ErrFileRequired = "A file is required"
	ErrFileTooLarge = "File is too large"

	// Post processing errors
	ErrInitializingPosts = "Error initializing posts"
	ErrReloadingPosts    = "Error reloading posts"

	// Toasts
	ErrSaveFailed = "Could not save your changes"
)
