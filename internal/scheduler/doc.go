// Package scheduler maintains one armed one-shot timer per unsent, future
// reminder and hands fired reminders to the delivery executor on a small
// worker pool.
//
// Durable state is ground truth: the in-memory timer set is a disposable
// projection of the reminder store, rebuilt by ReconcileFromStore at startup.
// A crash between "timer armed" and "timer fired" loses nothing: the next
// start rebuilds the same timer, or finds the instant in the past and relies
// on the misfire grace window.
//
// Guarantees per reminder ID: at most one live timer (Arm replaces), at most
// one in-flight execution (overlapping fires coalesce), and no execution for
// instants discovered later than the grace window.
package scheduler
