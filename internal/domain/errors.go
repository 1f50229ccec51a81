package domain

import "errors"

// Repository sentinels. Services map them onto pkg/errors.AppError.
var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateMessage = errors.New("message already exists")
	ErrChatNotFound     = errors.New("chat not found")
	ErrKeyNotFound      = errors.New("identity key not found")
	ErrKeyExists        = errors.New("identity key already published")
)
