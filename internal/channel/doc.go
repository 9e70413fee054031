// Package channel defines the outbound notification contract and the
// built-in adapters. A Notifier delivers one rendered message for one event;
// the Registry maps configured channel IDs to Notifier instances so routes
// and escalation targets can refer to channels by name.
package channel
