package models

// FileRef points at an uploaded file stored by the server.
type FileRef struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}
