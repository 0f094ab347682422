// Package timeouts defines shared timeout constants used across services.
// Every blocking call into the store or the messaging transport is bounded
// by one of these values.
package timeouts

import "time"

// StoreOperation caps one repository call, including its transaction.
const StoreOperation = 5 * time.Second

// TransportSend caps one outbound message to a single recipient.
const TransportSend = 10 * time.Second

// HTTPClient caps a whole HTTP round trip to an external messaging API.
const HTTPClient = 15 * time.Second

// Shutdown limits how long servers wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
