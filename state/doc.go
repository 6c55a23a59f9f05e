// Package state holds one peer's view of a shared, JSON-shaped state tree.
//
// A Store accepts only plain mappings: string keys whose values are null,
// booleans, numbers, strings or nested mappings. Arrays, functions, structs
// and other constructed values are rejected with a ShapeError, at any depth.
// A positional merge cannot tell an insert from a delete or a reorder, so
// lists are modelled as keyed mappings by the application.
//
// Mutation goes through SetState:
//
//	store.Merge(state.Map{"a": state.Map{"y": 2}})    // structural merge
//	store.Replace(state.Map{"fresh": true})           // full replacement
//	store.Merge(state.Map{"a": state.Map{"x": nil}})  // explicit null is kept
//	store.Merge(state.Map{"a": state.Absent})         // deletes "a"
//
// A merge computes the minimal diff (keys added plus keys whose value
// changed) before writing and notifies OnChange subscribers with exactly that
// diff, only when it is non-empty.
//
// Hash returns a blake3 fingerprint of the full tree. Keys are hashed in
// sorted order so insertion order never matters, and numbers are normalised
// to float64 so 1 and 1.0 hash alike (JSON has a single number type).
package state
