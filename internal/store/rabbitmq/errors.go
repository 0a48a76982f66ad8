package rabbitmq

import "errors"

var errEmptyJobID = errors.New("job message without job_id")
