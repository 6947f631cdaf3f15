// Package assert panics on programmer errors at construction time.
package assert

import "fmt"

// NotNil panics if `value` is nil, `name` is what the panic refers to it as.
func NotNil(value any, name string) {
	if value == nil {
		panic(fmt.Sprintf("expected %s to be not nil", name))
	}
}

func NotEmptyStr(str string, name string) {
	if str == "" {
		panic(fmt.Sprintf("expected %s to be non-empty", name))
	}
}
