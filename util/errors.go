package util

type BasaltError struct {
	Message string
	Err     error
}

func (e *BasaltError) Error() string {
	return e.Message
}

func (e *BasaltError) Unwrap() error {
	return e.Err
}

type BufferpoolExhaustedError struct {
	*BasaltError
}

func NewBufferpoolExhaustedError() *BufferpoolExhaustedError {
	return &BufferpoolExhaustedError{
		BasaltError: &BasaltError{Message: "all frames are pinned, no victim available"},
	}
}
