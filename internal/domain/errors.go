package domain

import "errors"

var (
	ErrBadImageName = errors.New("image filename contains path elements")
)
