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

// Package daemon carries the pieces shared by the aprs2.net daemons: zap
// logger construction and the INI configuration file.
package daemon

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logType string

const (
	logTypeAuto logType = ""
	logTypeDev  logType = "dev"
	logTypeProd logType = "prod"
)

var (
	globalLog        *zap.Logger
	globalSugaredLog *zap.SugaredLogger
	globalLevel      zap.AtomicLevel
	levelFlag        *zapcore.Level
	logTypeFlag      logType
)

func (l *logType) String() string {
	if *l == logTypeDev {
		return "development"
	} else if *l == logTypeProd {
		return "production"
	}
	return "auto"
}

func (l *logType) Set(s string) error {
	ss := strings.ToLower(s)
	if strings.HasPrefix(ss, "dev") {
		*l = logTypeDev
		return nil
	} else if strings.HasPrefix(ss, "pro") {
		*l = logTypeProd
		return nil
	}
	return fmt.Errorf("Unknown Log Type '%s'.  Try [dev|prod]", s)
}

func init() {
	levelFlag = zap.LevelFlag("log-level", zapcore.InfoLevel, "Log level [debug,info,warn,error,panic,fatal]")
	flag.Var(&logTypeFlag, "log-type", "Logging style [dev|prod]")
}

// SetupLogs creates a pair of zap loggers -- one structured and one
// "sugared" -- for use by the aprs2.net daemons.
func SetupLogs() (*zap.Logger, *zap.SugaredLogger) {
	var log *zap.Logger
	var err error

	if globalLog != nil {
		return GetLogs()
	}

	isTerm := isatty.IsTerminal(os.Stderr.Fd())

	lt := logTypeFlag
	if lt == logTypeAuto {
		if isTerm {
			lt = logTypeDev
		} else {
			lt = logTypeProd
		}
	}

	pname, err := os.Executable()
	if err != nil {
		// Fall back to whatever's in $0
		pname = os.Args[0]
	}
	pname = filepath.Base(pname)

	var config zap.Config
	globalLevel = zap.NewAtomicLevelAt(*levelFlag)
	zapOptions := []zap.Option{
		zap.AddStacktrace(zapcore.ErrorLevel),
	}

	if lt == logTypeDev {
		config = zap.NewDevelopmentConfig()
		config.Level = globalLevel
		if isTerm {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	} else {
		config = zap.NewProductionConfig()
		config.Level = globalLevel
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	log, err = config.Build(zapOptions...)
	if err != nil {
		panic(fmt.Sprintf("can't zap: %v", err))
	}

	// Make sure the program name is available in the log payload
	log = log.Named(pname)

	log.Debug(fmt.Sprintf("Zap %s Logging at %s", lt.String(), config.Level))
	globalLog = log
	globalSugaredLog = globalLog.Sugar()
	return GetLogs()
}

// ResetupLogs is intended for use after flag.Parse() has been called by
// the application, since the flags passed may necessitate rebuild of the
// loggers.
func ResetupLogs() (*zap.Logger, *zap.SugaredLogger) {
	globalLog = nil
	globalSugaredLog = nil
	return SetupLogs()
}

// GetLogs returns the current global pair of loggers.
func GetLogs() (*zap.Logger, *zap.SugaredLogger) {
	return globalLog, globalSugaredLog
}
