// Package testutil provides small generic helpers shared by this module's tests.
package testutil

// Ptr returns a pointer to the given value.
// This is useful in tests where struct literals require pointer fields.
//
//	testutil.Ptr(true)   // *bool
//	testutil.Ptr(42)     // *int
//	testutil.Ptr("foo")  // *string
func Ptr[T any](v T) *T { return &v }
