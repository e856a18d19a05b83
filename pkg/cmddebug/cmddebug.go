// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package cmddebug installs debug signal handlers shared by both daemon
// entrypoints, factored out of the teacher's single main.go's
// signals_unix.go/signals_windows.go now that two cmd/ binaries need it.
package cmddebug

// StateDumper is implemented by a daemon's top-level app type so
// cmddebug.Install can trigger a state dump without depending on either
// app package.
type StateDumper interface {
	DumpState() string
}
