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

package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_started",
			Help: "Number of server polls started.",
		})
	pollsFinished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_finished",
			Help: "Number of server polls finished.",
		})
	serversOkPolled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_ok",
			Help: "Number of polls which found the server OK.",
		})
	serversFailPolled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_fail",
			Help: "Number of polls which found the server failing.",
		})
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "poll_duration",
			Help: "Poll duration in seconds.",
		})
)

func init() {
	prometheus.MustRegister(pollsStarted)
	prometheus.MustRegister(pollsFinished)
	prometheus.MustRegister(serversOkPolled)
	prometheus.MustRegister(serversFailPolled)
	prometheus.MustRegister(pollDuration)
}
