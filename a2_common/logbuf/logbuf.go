/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

// Package logbuf provides a logger whose records also accumulate in a
// bounded in-memory buffer.  Each poll round uses one, so the complete log
// of the round can be stored in the status database for later inspection.
package logbuf

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// A line count bound, so a pathological poll cannot grow without limit.
const maxLines = 1000

// Buffer collects formatted log lines.  It implements zapcore.WriteSyncer.
type Buffer struct {
	sync.Mutex
	lines   int
	content []byte
}

// Write implements the io.Writer interface.
func (b *Buffer) Write(data []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	if b.lines < maxLines {
		b.content = append(b.content, data...)
		b.lines++
	}
	return len(data), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *Buffer) Sync() error {
	return nil
}

// String returns the buffered log as one string.
func (b *Buffer) String() string {
	b.Lock()
	defer b.Unlock()
	return string(b.content)
}

// New returns a sugared logger which logs through parent and also collects
// every record into the returned Buffer, down to debug level.
func New(parent *zap.Logger) (*zap.SugaredLogger, *Buffer) {
	buf := &Buffer{}

	enccfg := zap.NewProductionEncoderConfig()
	enccfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(enccfg)
	bufcore := zapcore.NewCore(enc, buf, zapcore.DebugLevel)

	log := parent.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, bufcore)
	}))

	return log.Sugar(), buf
}
