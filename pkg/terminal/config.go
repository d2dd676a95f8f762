package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dapbridge/dapbridge/pkg/config"
)

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

// configureIterator walks the fields of a configuration struct, descending
// into nested structs. Nested fields are named parent.child.
type configureIterator struct {
	names  []string
	fields []reflect.Value
	i      int
}

func iterateConfiguration(conf *config.Config) *configureIterator {
	it := &configureIterator{i: -1}
	it.collect("", reflect.ValueOf(conf).Elem())
	return it
}

func (it *configureIterator) collect(prefix string, v reflect.Value) {
	typ := v.Type()
	for i := 0; i < v.NumField(); i++ {
		name := typ.Field(i).Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" {
			continue
		}
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			it.collect(prefix+name+".", field)
			continue
		}
		it.names = append(it.names, prefix+name)
		it.fields = append(it.fields, field)
	}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < len(it.fields)
}

func (it *configureIterator) Field() (name string, field reflect.Value) {
	return it.names[it.i], it.fields[it.i]
}

func configureFindFieldByName(conf *config.Config, name string) reflect.Value {
	it := iterateConfiguration(conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	it := iterateConfiguration(t.conf)
	for it.Next() {
		fieldName, field := it.Field()
		switch {
		case field.Kind() == reflect.Map:
			keys := field.MapKeys()
			if len(keys) == 0 {
				fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
			} else {
				fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
			}
		case field.Kind() == reflect.String && field.Len() == 0:
			fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		default:
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
		}
	}
	return w.Flush()
}

var durationType = reflect.TypeOf(time.Duration(0))

func configureSet(t *Term, args string) error {
	v := split2PartsBySpace(args)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = v[1]
	}

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	field := configureFindFieldByName(t.conf, cfgname)
	if !field.CanAddr() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(rest)
		if err != nil {
			return fmt.Errorf("argument to %q must be a duration: %v", cfgname, err)
		}
		if d <= 0 {
			return fmt.Errorf("argument to %q must be a positive duration", cfgname)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("argument to %q must be a number", cfgname)
		}
		if n < 0 {
			return fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		field.SetBool(rest == "true")
	case field.Kind() == reflect.String:
		field.SetString(strings.Trim(rest, `"`))
	default:
		return fmt.Errorf("unsupported type for configuration key %q", cfgname)
	}
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
