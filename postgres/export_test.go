package postgres

// Export internal symbols for testing.
// This file is only compiled during testing.

var (
	ExportLiteral       = literal
	ExportFormatHstore  = formatHstore
	ExportHstoreQuery   = hstoreTypeQuery
	ExportSQLStateFault = isOperationalSQLState

	ExportResolve = func(opts ...Option) (Parameters, error) {
		o := newOptions()
		for _, opt := range opts {
			opt(o)
		}

		err := o.resolve()

		return o.params, err
	}

	ExportConnectionString = func(p Parameters) string {
		return p.connectionString()
	}
)

// DecoderCodec wraps fn in the codec installed for registered types.
func DecoderCodec(fn DecodeFunc) *decoderCodec { //nolint:revive // test-only accessor
	return &decoderCodec{decode: fn}
}

// ConfigErr returns the configuration error recorded by New, if any.
func (c *Client) ConfigErr() error {
	return c.configErr
}

// SetHandle installs h as the live session, bypassing the dialer.
func (c *Client) SetHandle(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handle = h
}
