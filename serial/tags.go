package serial

import "fmt"

// ---------------------------------------------------------------------------
// Type tags: one per serializable value shape
// ---------------------------------------------------------------------------

// TypeTag identifies the shape of the payload that follows it.
type TypeTag uint8

const (
	TagRootRef TypeTag = iota
	TagForwardRef
	TagForwardRefs
	TagConstant
	TagNumber
	TagString
	TagArray
	TagURL
	TagDate
	TagRegex
	TagVNode
	TagRefVNode
	TagBigInt
	TagURLSearchParams

	// Tags from here on are built in two phases (allocate, then inflate)
	// because their values may take part in cycles.
	TagError
	TagObject
	TagPromise
	TagSet
	TagMap
	TagUint8Array
	TagQRL
	TagPreloadQRL
	TagTask
	TagResource
	TagComponent
	TagSignal
	TagWrappedSignal
	TagComputedSignal
	TagSerializerSignal
	TagStore
	TagStoreArray
	TagFormData
	TagJSXNode
	TagPropsProxy
	TagEffectData

	tagCount
)

var typeTagNames = [tagCount]string{
	TagRootRef:          "RootRef",
	TagForwardRef:       "ForwardRef",
	TagForwardRefs:      "ForwardRefs",
	TagConstant:         "Constant",
	TagNumber:           "Number",
	TagString:           "String",
	TagArray:            "Array",
	TagURL:              "URL",
	TagDate:             "Date",
	TagRegex:            "Regex",
	TagVNode:            "VNode",
	TagRefVNode:         "RefVNode",
	TagBigInt:           "BigInt",
	TagURLSearchParams:  "URLSearchParams",
	TagError:            "Error",
	TagObject:           "Object",
	TagPromise:          "Promise",
	TagSet:              "Set",
	TagMap:              "Map",
	TagUint8Array:       "Uint8Array",
	TagQRL:              "QRL",
	TagPreloadQRL:       "PreloadQRL",
	TagTask:             "Task",
	TagResource:         "Resource",
	TagComponent:        "Component",
	TagSignal:           "Signal",
	TagWrappedSignal:    "WrappedSignal",
	TagComputedSignal:   "ComputedSignal",
	TagSerializerSignal: "SerializerSignal",
	TagStore:            "Store",
	TagStoreArray:       "StoreArray",
	TagFormData:         "FormData",
	TagJSXNode:          "JSXNode",
	TagPropsProxy:       "PropsProxy",
	TagEffectData:       "EffectData",
}

// String returns the tag name, or a numeric form for unknown tags.
func (t TypeTag) String() string {
	if t < tagCount {
		return typeTagNames[t]
	}
	return fmt.Sprintf("TypeTag(%d)", uint8(t))
}

// Valid reports whether t is a member of the closed tag set.
func (t TypeTag) Valid() bool {
	return t < tagCount
}

// twoPhase reports whether values with this tag are allocated before their
// payload is decoded. Arrays are included because an array root may contain
// a reference back to itself.
func (t TypeTag) twoPhase() bool {
	return t >= TagError || t == TagArray
}

// ---------------------------------------------------------------------------
// Constants: singleton values encoded as Constant,<n>
// ---------------------------------------------------------------------------

// Constant indexes the table of well-known singleton values.
type Constant uint8

const (
	ConstUndefined Constant = iota
	ConstNull
	ConstTrue
	ConstFalse
	ConstEmptyString
	ConstEmptyArray
	ConstEmptyObject
	ConstNeedsComputation
	ConstStoreArrayProp
	ConstSlot
	ConstFragment
	ConstNaN
	ConstPositiveInfinity
	ConstNegativeInfinity
	ConstMaxSafeInt
	ConstAlmostMaxSafeInt
	ConstMinSafeInt

	constantCount
)

var constantNames = [constantCount]string{
	ConstUndefined:        "Undefined",
	ConstNull:             "Null",
	ConstTrue:             "True",
	ConstFalse:            "False",
	ConstEmptyString:      "EmptyString",
	ConstEmptyArray:       "EmptyArray",
	ConstEmptyObject:      "EmptyObject",
	ConstNeedsComputation: "NeedsComputation",
	ConstStoreArrayProp:   "StoreArrayProp",
	ConstSlot:             "Slot",
	ConstFragment:         "Fragment",
	ConstNaN:              "NaN",
	ConstPositiveInfinity: "PositiveInfinity",
	ConstNegativeInfinity: "NegativeInfinity",
	ConstMaxSafeInt:       "MaxSafeInt",
	ConstAlmostMaxSafeInt: "AlmostMaxSafeInt",
	ConstMinSafeInt:       "MinSafeInt",
}

// String returns the constant name.
func (c Constant) String() string {
	if c < constantCount {
		return constantNames[c]
	}
	return fmt.Sprintf("Constant(%d)", uint8(c))
}

// Largest integer a float64 holds exactly, matching the JavaScript
// Number.MAX_SAFE_INTEGER bound.
const (
	maxSafeInt       = 1<<53 - 1
	almostMaxSafeInt = maxSafeInt - 1
	minSafeInt       = -maxSafeInt
)
