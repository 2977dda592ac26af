package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInjectionDetected       = errors.New("potential SQL injection detected")
	ErrUnsupportedDatasource   = errors.New("unsupported datasource type")
	ErrInvalidDatasourceConfig = errors.New("invalid datasource config")
)
