package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingContentType   = errors.New("missing content type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrInvalidPath          = errors.New("invalid path parameter")

	// ErrBinderNotApplicable tells the caller to skip this binder, e.g. a JSON
	// binder on a request without a body.
	ErrBinderNotApplicable = errors.New("binder not applicable")
)
