package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5/pgtype"
)

// DecodeFunc converts the text representation of a column value into a Go
// value. src is nil when the column is NULL.
type DecodeFunc func(src []byte) (any, error)

// TypeEntry binds a decoder to one or more type OIDs.
type TypeEntry struct {
	OIDs   []uint32
	Name   string
	Decode DecodeFunc
}

// TypeRegistrar is where decoders end up. *pgtype.Map satisfies it.
type TypeRegistrar interface {
	RegisterType(t *pgtype.Type)
}

// TypeRegistry is the ordered list of decoders a Client installs on every
// handle it opens. It always starts with the money decoder, only grows, and
// is not safe for concurrent use on its own; Client serialises access.
type TypeRegistry struct {
	entries []TypeEntry
}

// NewTypeRegistry returns a registry holding only the built-in money decoder.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		entries: []TypeEntry{{OIDs: []uint32{MoneyOID}, Name: "money", Decode: DecodeMoney}},
	}
}

// Add appends a decoder and returns the stored entry.
func (r *TypeRegistry) Add(oids []uint32, name string, fn DecodeFunc) (TypeEntry, error) {
	if len(oids) == 0 {
		return TypeEntry{}, fmt.Errorf("%w: at least one type OID is required", ErrInvalidArgument)
	}

	if fn == nil {
		return TypeEntry{}, fmt.Errorf("%w: decode function cannot be nil", ErrInvalidArgument)
	}

	entry := TypeEntry{
		OIDs:   append([]uint32(nil), oids...),
		Name:   name,
		Decode: fn,
	}

	r.entries = append(r.entries, entry)

	return entry, nil
}

// Entries returns the registered decoders in registration order.
func (r *TypeRegistry) Entries() []TypeEntry {
	return append([]TypeEntry(nil), r.entries...)
}

func (r *TypeRegistry) Len() int {
	return len(r.entries)
}

// Replay installs every entry on m in registration order and returns the
// number of entries installed.
func (r *TypeRegistry) Replay(m TypeRegistrar) int {
	for _, e := range r.entries {
		e.apply(m)
	}

	return len(r.entries)
}

func (e TypeEntry) apply(m TypeRegistrar) {
	codec := &decoderCodec{decode: e.Decode}

	for _, oid := range e.OIDs {
		m.RegisterType(&pgtype.Type{Name: e.Name, OID: oid, Codec: codec})
	}
}

// decoderCodec adapts a DecodeFunc to pgtype.Codec. Only the text format is
// supported so the server always sends the representation the decoder expects.
type decoderCodec struct {
	decode DecodeFunc
}

func (c *decoderCodec) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode
}

func (c *decoderCodec) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

//nolint:ireturn // Interface required by pgtype.Codec
func (c *decoderCodec) PlanEncode(_ *pgtype.Map, _ uint32, format int16, value any) pgtype.EncodePlan {
	if format != pgtype.TextFormatCode {
		return nil
	}

	switch value.(type) {
	case string, []byte, fmt.Stringer:
		return encodePlanText{}
	default:
		return nil
	}
}

// PlanScan handles *any and plain pointer targets. sql.Scanner targets and
// pointers to pointers are left to pgx, which reaches them through
// DecodeDatabaseSQLValue and by unwrapping the outer pointer.
//
//nolint:ireturn // Interface required by pgtype.Codec
func (c *decoderCodec) PlanScan(_ *pgtype.Map, _ uint32, format int16, target any) pgtype.ScanPlan {
	if format != pgtype.TextFormatCode {
		return nil
	}

	if _, ok := target.(*any); ok {
		return scanPlanDecodeToAny{decode: c.decode}
	}

	if _, ok := target.(sql.Scanner); ok {
		return nil
	}

	t := reflect.TypeOf(target)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() == reflect.Pointer {
		return nil
	}

	return scanPlanDecodeAssign{decode: c.decode}
}

// DecodeDatabaseSQLValue runs the decoder and hands the result to
// database/sql in a form a sql.Scanner accepts.
func (c *decoderCodec) DecodeDatabaseSQLValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}

	v, err := c.decode(src)
	if err != nil {
		return nil, err
	}

	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}

	if v == nil || driver.IsValue(v) {
		return v, nil
	}

	return string(src), nil
}

func (c *decoderCodec) DecodeValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (any, error) {
	return c.decode(src)
}

type encodePlanText struct{}

func (encodePlanText) Encode(value any, buf []byte) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return append(buf, v...), nil
	case []byte:
		return append(buf, v...), nil
	case fmt.Stringer:
		return append(buf, v.String()...), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as text", value)
	}
}

type scanPlanDecodeToAny struct {
	decode DecodeFunc
}

func (p scanPlanDecodeToAny) Scan(src []byte, target any) error {
	v, err := p.decode(src)
	if err != nil {
		return err
	}

	*(target.(*any)) = v

	return nil
}

type scanPlanDecodeAssign struct {
	decode DecodeFunc
}

func (p scanPlanDecodeAssign) Scan(src []byte, target any) error {
	v, err := p.decode(src)
	if err != nil {
		return err
	}

	dst := reflect.ValueOf(target)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return errors.New("scan target must be a non-nil pointer")
	}

	elem := dst.Elem()

	if v == nil {
		switch elem.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			elem.SetZero()
			return nil
		default:
			return fmt.Errorf("cannot scan NULL into %T", target)
		}
	}

	rv := reflect.ValueOf(v)

	switch {
	case rv.Type().AssignableTo(elem.Type()):
		elem.Set(rv)
	case rv.Type().ConvertibleTo(elem.Type()):
		elem.Set(rv.Convert(elem.Type()))
	default:
		return fmt.Errorf("cannot assign decoded %T to %s", v, elem.Type())
	}

	return nil
}
