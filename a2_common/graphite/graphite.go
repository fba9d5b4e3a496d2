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

// Package graphite buffers metrics and ships them to a Graphite server in
// the background.  Sends never block the caller: the queue is bounded and
// overflow is dropped.
package graphite

import (
	"fmt"
	"strconv"

	graphite "github.com/marpaia/graphite-golang"
	"go.uber.org/zap"
)

// Don't hold a massive backlog, just momentary spikes.
const maxQueueSize = 500

type metric struct {
	name  string
	value float64
}

// Sink is the shared background sender.
type Sink struct {
	log    *zap.SugaredLogger
	host   string
	port   int
	prefix string

	queue chan metric
	g     *graphite.Graphite
}

// NewSink starts a background sender to the given Graphite server.  An
// empty host yields a sink that discards everything, so callers don't need
// to test for configuration.
func NewSink(log *zap.SugaredLogger, host string, port int, prefix string) *Sink {
	s := &Sink{
		log:    log,
		host:   host,
		port:   port,
		prefix: prefix,
		queue:  make(chan metric, maxQueueSize),
	}
	go s.consume()
	return s
}

func (s *Sink) connect() {
	if s.host == "" || s.g != nil {
		return
	}
	g, err := graphite.NewGraphite(s.host, s.port)
	if err != nil {
		s.log.Errorf("Failed to connect to Graphite: %v", err)
		return
	}
	s.log.Infof("Connected to Graphite at %s:%d", s.host, s.port)
	s.g = g
}

func (s *Sink) consume() {
	for m := range s.queue {
		if s.host == "" {
			continue
		}
		s.connect()
		if s.g == nil {
			continue
		}
		name := fmt.Sprintf("%s.%s", s.prefix, m.name)
		v := strconv.FormatFloat(m.value, 'f', -1, 64)
		if err := s.g.SimpleSend(name, v); err != nil {
			s.log.Errorf("Graphite send failed: %v", err)
			s.g.Disconnect()
			s.g = nil
		}
	}
}

// Send queues one metric.  If the queue is full, the metric is dropped.
func (s *Sink) Send(name string, value float64) bool {
	select {
	case s.queue <- metric{name: name, value: value}:
		return true
	default:
		s.log.Errorf("Graphite queue full, dropping %s", name)
		return false
	}
}

// Sender prefixes metrics with a per-server path component.
type Sender struct {
	sink *Sink
	node string
}

// NewSender returns a Sender publishing under the given node name.
func NewSender(sink *Sink, node string) *Sender {
	return &Sender{sink: sink, node: node}
}

// Send queues one metric under the sender's node.
func (s *Sender) Send(name string, value float64) bool {
	return s.sink.Send(s.node+"."+name, value)
}
