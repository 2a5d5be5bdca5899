// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package primitives

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// externalHelperTimeout bounds how long a pem_external helper may run.
// The spec describes the core as synchronous with no cancellation model,
// but a hung child process must not wedge the whole pipeline forever.
const externalHelperTimeout = 30 * time.Second

func runExternalHelper(path string, toSign []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), externalHelperTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(toSign)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("external signer %q: %w (stderr: %s)", path, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
