// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package main

import "github.com/dmtf-spdm/go-spdm/cmd"

func main() {
	cmd.Execute()
}
