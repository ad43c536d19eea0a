package errors

// ServiceError should be used to return error messages in JSON format.
type ServiceError struct {
	Message string `json:"message"`
	// Reason is the reason code of the failed record, if any.
	Reason string `json:"reason,omitempty"`
	// ID is the id of the record the error belongs to, if any.
	ID string `json:"id,omitempty"`
}
