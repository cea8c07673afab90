/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUdelayWaitsAtLeastTheTarget(t *testing.T) {
	begin := time.Now()
	udelay(200)
	assert.GreaterOrEqual(t, time.Since(begin), 200*time.Microsecond)
}

func TestUsleepWaitsAtLeastTheTarget(t *testing.T) {
	begin := time.Now()
	usleep(200)
	assert.GreaterOrEqual(t, time.Since(begin), 200*time.Microsecond)
}

func TestUsecSince(t *testing.T) {
	begin := time.Now().Add(-time.Millisecond)
	assert.GreaterOrEqual(t, usecSince(begin), int64(1000))
}

func TestAccuracyStrings(t *testing.T) {
	assert.Equal(t, "high", AccuracyHigh.String())
	assert.Equal(t, "low", AccuracyLow.String())
	assert.Equal(t, "unset", AccuracyUnset.String())
}
