// Package walk traverses the address space in homogeneous steps.
//
// A Walker queries region descriptors from a host in ascending address order,
// clips each to the requested bounds and yields the pairs accepted by a
// predicate:
//
//	w := walk.New(h, walk.Span(base, size), walk.Committed)
//	for region, r := range w.All() {
//	    fmt.Printf("%#x-%#x %s\n", r.Lower, r.Upper, region.State)
//	}
//	if err := w.Err(); err != nil {
//	    return err
//	}
//
// Sequences are lazy, finite and single use. Descriptors are never cached, so
// predicates must not have side effects.
package walk
