package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

const hstoreTypeQuery = "SELECT oid, typarray FROM pg_type WHERE typname = 'hstore'"

// enableHstore registers the hstore codec on h when the extension is
// installed. Servers without it are not an error for the caller.
func enableHstore(ctx context.Context, h Handle) error {
	var oid, arrayOID uint32

	if err := h.QueryRow(ctx, hstoreTypeQuery).Scan(&oid, &arrayOID); err != nil {
		return fmt.Errorf("hstore type not available: %w", err)
	}

	hstore := &pgtype.Type{Name: "hstore", OID: oid, Codec: pgtype.HstoreCodec{}}

	m := h.TypeMap()
	m.RegisterType(hstore)

	if arrayOID != 0 {
		m.RegisterType(&pgtype.Type{Name: "_hstore", OID: arrayOID, Codec: &pgtype.ArrayCodec{ElementType: hstore}})
	}

	return nil
}

// Hstore converts a plain map into a value that can be passed as an hstore
// statement argument.
func Hstore(m map[string]string) pgtype.Hstore {
	h := make(pgtype.Hstore, len(m))

	for k, v := range m {
		h[k] = &v
	}

	return h
}
