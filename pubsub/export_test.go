package pubsub

// Export internal symbols for testing.
// This file is only compiled during testing.

var ExportQuoteChannel = quoteChannel
