// Package jlog bridges the eventfold Logger interface to jettison structured
// logging.
package jlog

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/eventfold/eventfold"
)

func New() Logger {
	return Logger{}
}

var _ eventfold.Logger = Logger{}

type Logger struct{}

func (Logger) Debug(ctx context.Context, msg string, meta eventfold.MKV) {
	log.Info(ctx, msg, j.MKS(meta))
}

func (Logger) Error(ctx context.Context, err error) {
	log.Error(ctx, errors.Wrap(err, ""))
}
