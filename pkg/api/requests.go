package api

// CreateThreadRequest is the HTTP request body for POST /threads.
type CreateThreadRequest struct {
	Title string `json:"title,omitempty"`
}
