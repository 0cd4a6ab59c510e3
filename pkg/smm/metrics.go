// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatches per driver and trigger.
type Metrics struct {
	Dispatches *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates the dispatch collectors and registers them with reg.
// Collectors already registered by another registry are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	labels := []string{"driver", "trigger"}
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smm",
			Name:      "dispatch_total",
			Help:      "SMI callbacks run.",
		}, labels),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smm",
			Name:      "dispatch_errors_total",
			Help:      "SMI callbacks that returned an error.",
		}, labels),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smm",
			Name:      "dispatch_seconds",
			Help:      "Time spent in SMI callbacks.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, labels),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.Dispatches, err = registerCounterVec(reg, m.Dispatches); err != nil {
		return nil, err
	}
	if m.Errors, err = registerCounterVec(reg, m.Errors); err != nil {
		return nil, err
	}
	if err := reg.Register(m.Duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.Duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		return are.ExistingCollector.(*prometheus.CounterVec), nil
	}
	return c, nil
}
