// Package arch maps a target triple to the calling convention used by the
// intercepted Objective-C method.
package arch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedArch is returned when no calling convention is known for a triple.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Convention describes where the receiver of an Objective-C message lives on
// entry and where the return value lives after the method returns.
type Convention interface {
	// Name is the architecture name, e.g. "arm64".
	Name() string
	// SelfRegister holds the first argument ("self") on entry.
	SelfRegister() string
	// ReturnRegister holds the return value once the frame has returned.
	ReturnRegister() string
	// TrueValue is the value written to ReturnRegister to signal success.
	TrueValue() string
}

type arm64 struct{}

func (arm64) Name() string           { return "arm64" }
func (arm64) SelfRegister() string   { return "x0" }
func (arm64) ReturnRegister() string { return "x0" }
func (arm64) TrueValue() string      { return "1" }

type x86_64 struct{}

func (x86_64) Name() string           { return "x86_64" }
func (x86_64) SelfRegister() string   { return "rdi" }
func (x86_64) ReturnRegister() string { return "rax" }
func (x86_64) TrueValue() string      { return "1" }

// conventions is keyed by the architecture component of the triple.
// arm64e and x86_64h share their base ABI for argument passing.
var conventions = map[string]Convention{
	"arm64":   arm64{},
	"arm64e":  arm64{},
	"aarch64": arm64{},
	"x86_64":  x86_64{},
	"x86_64h": x86_64{},
}

// Resolve returns the calling convention for a target triple such as
// "arm64e-apple-macosx15.4.0".
func Resolve(triple string) (Convention, error) {
	name := strings.ToLower(strings.TrimSpace(triple))
	if i := strings.IndexByte(name, '-'); i >= 0 {
		name = name[:i]
	}
	if c, ok := conventions[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedArch, triple, strings.Join(Supported(), ", "))
}

// Supported lists the architecture names Resolve accepts.
func Supported() []string {
	names := make([]string, 0, len(conventions))
	for name := range conventions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
