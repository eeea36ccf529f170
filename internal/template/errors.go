package template

import "errors"

var (
	// ErrTemplateNotFound is returned when a template file does not exist.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrPathViolation is returned when a template or attachment path
	// resolves outside the template root.
	ErrPathViolation = errors.New("path escapes the template root")
)
