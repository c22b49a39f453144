/*
	Package volume defines the Source capability shared by every queryable volume and
	provides LocalVolume, a Source backed by a single fixed-resolution Array.

	A Source answers four kinds of queries: descriptor (Info), encoded subvolume at an
	integral downsampling factor, object mesh, and invalidation.  Multi-resolution sources
	(see package pyramid) implement the same interface so viewers never depend on a
	concrete type.
*/
package volume
