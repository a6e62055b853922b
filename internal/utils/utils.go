// Package utils holds small generic helpers shared by the claim and scope handling code.
package utils

import "slices"

// ToStringSlice keeps the string elements of a decoded JSON array.
func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// AppendUnique returns base followed by the non-empty values of extra it does not
// already hold, in order. base is not modified.
func AppendUnique(base []string, extra ...string) []string {
	out := slices.Clone(base)
	for _, s := range extra {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}
