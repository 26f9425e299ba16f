package queue

import "errors"

var (
	ErrNullQueue     = errors.New("queue: queue does not exist")
	ErrNullElement   = errors.New("queue: element does not exist")
	ErrAlreadyQueued = errors.New("queue: element already belongs to a queue")
	ErrEmptyQueue    = errors.New("queue: queue is empty")
	ErrNotFound      = errors.New("queue: element not in queue")
)
