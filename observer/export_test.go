// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer

// TaskDone exposes the task's completion channel to the tests, so they
// can wait for a background attempt to settle.
func TaskDone(t *StartupTask) <-chan struct{} {
	return t.done
}
