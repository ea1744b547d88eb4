package cerr

// The core reports five failure classes. They are carried by Code so that the
// HTTP layer and the logs need no extra type switches.

// IsAuthorization reports a failed capability or assignee check.
func IsAuthorization(err error) bool {
	c := CodeOf(err)
	return c == PermissionDenied || c == Unauthenticated
}

// IsValidation reports input or state-machine rejections made before any write.
func IsValidation(err error) bool {
	c := CodeOf(err)
	return c == InvalidArgument || c == FailedPrecondition || c == OutOfRange
}

func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}

// IsTransient reports network-boundary failures. The core never retries them.
func IsTransient(err error) bool {
	c := CodeOf(err)
	return c == Unavailable || c == DeadlineExceeded
}

func Validation(msg string) *Error {
	return NewError(InvalidArgument, msg, nil)
}

func Precondition(msg string) *Error {
	return NewError(FailedPrecondition, msg, nil)
}

func Denied(msg string) *Error {
	return NewError(PermissionDenied, msg, nil)
}

func Transient(msg string, err error) *Error {
	return NewError(Unavailable, msg, err)
}
