package dex

import "strings"

// AccessFlags is an access_flags bit set. Some bits mean different things
// for classes, fields and methods.
type AccessFlags uint32

const (
	AccPublic               AccessFlags = 0x1
	AccPrivate              AccessFlags = 0x2
	AccProtected            AccessFlags = 0x4
	AccStatic               AccessFlags = 0x8
	AccFinal                AccessFlags = 0x10
	AccSynchronized         AccessFlags = 0x20
	AccVolatile             AccessFlags = 0x40 // fields
	AccBridge               AccessFlags = 0x40 // methods
	AccTransient            AccessFlags = 0x80 // fields
	AccVarargs              AccessFlags = 0x80 // methods
	AccNative               AccessFlags = 0x100
	AccInterface            AccessFlags = 0x200
	AccAbstract             AccessFlags = 0x400
	AccStrict               AccessFlags = 0x800
	AccSynthetic            AccessFlags = 0x1000
	AccAnnotation           AccessFlags = 0x2000
	AccEnum                 AccessFlags = 0x4000
	AccConstructor          AccessFlags = 0x10000
	AccDeclaredSynchronized AccessFlags = 0x20000
)

// FlagTarget selects which interpretation of the shared bits applies.
type FlagTarget int

const (
	ForClass FlagTarget = iota
	ForField
	ForMethod
)

type flagName struct {
	bit  AccessFlags
	name string
}

var classFlagOrder = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccInterface, "interface"},
	{AccAbstract, "abstract"}, {AccSynthetic, "synthetic"}, {AccAnnotation, "annotation"},
	{AccEnum, "enum"},
}

var fieldFlagOrder = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccVolatile, "volatile"},
	{AccTransient, "transient"}, {AccSynthetic, "synthetic"}, {AccEnum, "enum"},
}

var methodFlagOrder = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccSynchronized, "synchronized"},
	{AccBridge, "bridge"}, {AccVarargs, "varargs"}, {AccNative, "native"},
	{AccAbstract, "abstract"}, {AccStrict, "strictfp"}, {AccSynthetic, "synthetic"},
	{AccConstructor, "constructor"}, {AccDeclaredSynchronized, "declared-synchronized"},
}

// Names returns the keywords for the set bits in canonical order.
func (f AccessFlags) Names(target FlagTarget) []string {
	order := classFlagOrder
	switch target {
	case ForField:
		order = fieldFlagOrder
	case ForMethod:
		order = methodFlagOrder
	}
	var names []string
	for _, fn := range order {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

// Format joins Names with spaces.
func (f AccessFlags) Format(target FlagTarget) string {
	return strings.Join(f.Names(target), " ")
}

func (f AccessFlags) Has(bit AccessFlags) bool { return f&bit != 0 }
