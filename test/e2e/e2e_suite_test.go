// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestE2e(t *testing.T) { //nolint:paralleltest // E2E tests share httptest upstreams
	RegisterFailHandler(Fail)
	RunSpecs(t, "Toolgate E2e Suite")
}
