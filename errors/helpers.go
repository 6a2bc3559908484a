package errors

// WrapOpComponent wraps err with an Op and Component. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapCode wraps err with an Op, Component and Code. If err is nil, returns nil.
// A SyncError that already carries a code is returned unchanged.
func WrapCode(err error, op Operation, component string, code ErrorCode) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Code:      code,
		Err:       err,
	}
}
