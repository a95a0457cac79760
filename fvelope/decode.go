package fvelope

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/muir/reflectutils"
	"github.com/pkg/errors"
)

// DecodeTag is the struct tag that Input.Decode reads.
const DecodeTag = "fenris"

var textUnmarshallerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// Decode fills the struct that model points to from the Input.  Fields
// are matched with the `fenris:"name"` tag; an empty name means the field
// name and "-" skips the field.  Untagged fields are left alone and nested
// structs are walked.
//
// String values (path variables, query parameters) are parsed into the
// field's type.  []string values fill slices element by element.  Other
// values (from JSON bodies or locals) are assigned directly when the types
// allow it and converted through JSON otherwise.
//
//	var req struct {
//		ID    int64    `fenris:"id"`
//		Tags  []string `fenris:"tag"`
//		Owner *string  `fenris:"owner"`
//	}
//	err := in.Decode(&req)
func (in Input) Decode(model interface{}) error {
	v := reflect.ValueOf(model)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.Errorf("Decode requires a non-nil pointer to a struct, not %T", model)
	}
	target := v.Elem()
	var err error
	reflectutils.WalkStructElements(target.Type(), func(field reflect.StructField) bool {
		if err != nil {
			return false
		}
		name, ok := field.Tag.Lookup(DecodeTag)
		if !ok {
			return true
		}
		if name == "-" {
			return false
		}
		if name == "" {
			name = field.Name
		}
		value, present := in[name]
		if !present || value == nil {
			return false
		}
		f := target.FieldByIndex(field.Index)
		if !f.CanSet() {
			err = errors.Errorf("field %s cannot be set", field.Name)
			return false
		}
		err = errors.Wrapf(setValue(f, value), "input %s into field %s", name, field.Name)
		return false
	})
	return err
}

func setValue(f reflect.Value, value interface{}) error {
	switch tv := value.(type) {
	case string:
		return setString(f, tv)
	case []string:
		if f.Kind() == reflect.Slice {
			a := reflect.MakeSlice(f.Type(), len(tv), len(tv))
			for i, s := range tv {
				if err := setString(a.Index(i), s); err != nil {
					return err
				}
			}
			f.Set(a)
			return nil
		}
		if len(tv) > 0 {
			// a repeated parameter filling a scalar takes the last value
			return setString(f, tv[len(tv)-1])
		}
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(f.Type()) {
		f.Set(rv)
		return nil
	}
	enc, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "re-encode")
	}
	return errors.Wrapf(json.Unmarshal(enc, f.Addr().Interface()), "convert %T to %s", value, f.Type())
}

func setString(f reflect.Value, s string) error {
	if f.Kind() == reflect.Ptr {
		p := reflect.New(f.Type().Elem())
		if err := setString(p.Elem(), s); err != nil {
			return err
		}
		f.Set(p)
		return nil
	}
	if reflect.PtrTo(f.Type()).Implements(textUnmarshallerType) {
		return f.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}
	// nolint:exhaustive
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.Wrap(err, "decode bool")
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, f.Type().Bits())
		if err != nil {
			return errors.Wrap(err, "decode int")
		}
		f.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := strconv.ParseUint(s, 10, f.Type().Bits())
		if err != nil {
			return errors.Wrap(err, "decode uint")
		}
		f.SetUint(i)
	case reflect.Float32, reflect.Float64:
		x, err := strconv.ParseFloat(s, f.Type().Bits())
		if err != nil {
			return errors.Wrap(err, "decode float")
		}
		f.SetFloat(x)
	case reflect.Interface:
		if f.NumMethod() != 0 {
			return errors.Errorf("cannot store a string in %s", f.Type())
		}
		f.Set(reflect.ValueOf(s))
	default:
		return errors.Wrapf(json.Unmarshal([]byte(s), f.Addr().Interface()), "decode %s", f.Type())
	}
	return nil
}
