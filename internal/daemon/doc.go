// Package daemon wires the announcer together for `examcast run`.
// It owns the audio cache, playback engine, trigger loop, network monitor,
// metrics endpoint and the watchers that pick up changes made by other
// examcast processes.
package daemon
