package eventfold

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrEventNotFound     = errors.New("event not found", j.C("ERR_8c1f5a2be07d341a"))
	ErrEmptyCmd          = errors.New("cmd must be provided", j.C("ERR_04da92c6b1ee57f3"))
	ErrCausationNotFound = errors.New("causation id references unknown event", j.C("ERR_b37e09f14ac2d880"))
	ErrMalformedWaitFor  = errors.New("malformed wait-for expression", j.C("ERR_5d20c3a9ef86b417"))
	ErrPendingNotFound   = errors.New("pending event not found", j.C("ERR_e94a7f80123cd65b"))
	ErrPendingTransition = errors.New("pending event not in expected status", j.C("ERR_716bd2c40a98fe35"))
	ErrSnapshotNotFound  = errors.New("snapshot not found", j.C("ERR_2ab90c57e64d18fc"))
)
