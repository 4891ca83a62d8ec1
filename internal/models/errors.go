package models

import "errors"

// ErrNotFound возвращается хранилищем, если сущность не найдена
var ErrNotFound = errors.New("not found")
