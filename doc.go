// Package evhub is a cooperative scheduling substrate: many lightweight
// tasks share one OS thread per hub by suspending on descriptor
// readiness, timers or external signals, and resuming when a condition
// fires.
//
// A Hub owns a pluggable backend poller (epoll, kqueue or the
// queue-socket variant), a timer queue and a FIFO ready queue. Tasks
// are spawned onto a hub, stay pinned to it for life, and block with
// Task.Suspend on a set of conditions resolved by whichever fires
// first. The multithreaded mode (Ring) runs one hub per worker thread;
// hubs interact only through signal tokens delivered over each hub's
// inbound wake queue.
package evhub
