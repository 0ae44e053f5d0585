// Package id generates identifiers for queued requests.
//
// Generator.Next returns a 16-byte sortable ID ([8 bytes ms][8 bytes seq]);
// Generator.NextRecord builds on it to produce the string ids stored with each
// queued request, "<ms>-<random suffix>", together with the creation timestamp.
//
// The Generator pins to the last seen millisecond if the clock regresses, so
// timestamps handed out by one Generator never decrease.
//
//	g := id.NewGenerator()
//	rec := g.NextRecord() // rec.ID = "1718000000000-3f9a0c1b2d4e"
package id
