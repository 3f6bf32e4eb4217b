package config

const (
	//? These paths must match the embed directive in package web

	StaticLocalDir = "static"
	StaticUrlPath  = "/" + StaticLocalDir + "/"

	TemplatesLocalDir = "templates"

	TemplateLayout   = "layout.html"
	TemplateIndex    = "index.html"
	TemplatePDFs     = "pdfs.html"
	TemplatePDF      = "pdf.html"
	TemplateBlog     = "blog.html"
	TemplatePost     = "post.html"
	TemplateEditor   = "editor.html"
	TemplateLogin    = "login.html"
	TemplateReviews  = "reviews.html"
	TemplateComments = "comments.html"
	TemplateRequests = "requests.html"
)

const (
	PDFsUrlPath   = "/pdfs"
	BlogUrlPath   = "/blog"
	EditorUrlPath = "/editor"
)

// Document store collections.
const (
	CollectionPDFs              = "pdfs"
	CollectionBlogPosts         = "blogPosts"
	CollectionDrafts            = "drafts"
	CollectionUsers             = "users"
	CollectionPDFRequests       = "pdfRequests"
	CollectionCopyrightRequests = "copyrightRequests"
	CollectionReviews           = "reviews"
)

// CommentsCollection is the sub-collection holding comments of a blog post.
func CommentsCollection(postID string) string {
	return CollectionBlogPosts + "/" + postID + "/comments"
}
