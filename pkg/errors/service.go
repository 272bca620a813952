package errors

// ServiceError should be used to return error messages in JSON format.
type ServiceError struct {
	Message string `json:"message"`
}

// New returns a ServiceError with the provided message.
func New(message string) ServiceError {
	return ServiceError{Message: message}
}
