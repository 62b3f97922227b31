package api

import "fmt"

// StatusError is an error with an HTTP status code and message.
// It is parsed on the client side and not returned from the server.
type StatusError struct {
	StatusCode   int    // e.g. 404
	Status       string // e.g. "404 Not Found"
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the server logs for details"
	}
}
