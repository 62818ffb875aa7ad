// Package notify provides delivery sinks for one-time codes: an SMTP notifier
// for real transport and a logging notifier used when delivery is suppressed.
package notify
